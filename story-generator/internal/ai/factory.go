package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"storybook-server/story-generator/internal/config"

	"go.uber.org/zap"
)

// NewTextGenerator создает текстовый клиент в зависимости от AI_TEXT_CLIENT.
func NewTextGenerator(cfg *config.Config, prompts *PromptProvider, logger *zap.Logger) (TextGenerator, error) {
	switch strings.ToLower(cfg.AITextClient) {
	case "responses":
		logger.Info("Using text client: OpenAI Responses API", zap.String("model", cfg.AIModel))
		return NewResponsesTextClient(ResponsesOptions{
			APIKey:   cfg.AIAPIKey,
			BaseURL:  cfg.AIBaseURL,
			Model:    cfg.AIModel,
			Timeout:  cfg.AITimeout,
			PromptID: cfg.RemotePromptID,
		}, logger), nil
	case "openai":
		logger.Info("Using text client: OpenAI chat completions", zap.String("base_url", cfg.AIBaseURL), zap.String("model", cfg.AIModel))
		return newOpenAIChatClient(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel, cfg.AITimeout, prompts, logger), nil
	case "ollama":
		logger.Info("Using text client: Ollama", zap.String("base_url", cfg.AIBaseURL), zap.String("model", cfg.AIModel))
		return newOllamaClient(cfg.AIBaseURL, cfg.AIModel, cfg.AITimeout, prompts, logger)
	default:
		return nil, fmt.Errorf("неизвестный тип AI клиента: '%s'", cfg.AITextClient)
	}
}

// NewImageGenerator создает клиент изображений по AI_IMAGE_CLIENT и оборачивает его ограничителем частоты.
func NewImageGenerator(ctx context.Context, cfg *config.Config, prompts *PromptProvider, logger *zap.Logger) (ImageGenerator, error) {
	var gen ImageGenerator
	switch strings.ToLower(cfg.AIImageClient) {
	case "responses":
		logger.Info("Using image client: OpenAI Responses image_generation", zap.String("model", cfg.AIImageModel))
		gen = NewResponsesImageClient(ResponsesOptions{
			APIKey:   cfg.AIAPIKey,
			BaseURL:  cfg.AIBaseURL,
			Model:    cfg.AIImageModel,
			Timeout:  cfg.AITimeout,
			PromptID: cfg.RemotePromptID,
		}, logger)
	case "gemini":
		logger.Info("Using image client: Gemini", zap.String("model", cfg.AIImageModel))
		refs := NewReferenceImageFetcher(&http.Client{Timeout: cfg.AITimeout}, cfg.ReferenceImageTTL, logger)
		g, err := NewGeminiImageClient(ctx, cfg.GeminiAPIKey, cfg.AIImageModel, prompts, refs, logger)
		if err != nil {
			return nil, err
		}
		gen = g
	default:
		return nil, fmt.Errorf("неизвестный тип клиента изображений: '%s'", cfg.AIImageClient)
	}
	return NewRateLimitedImageGenerator(gen, cfg.ImageRatePerMinute, cfg.ImageBurst), nil
}
