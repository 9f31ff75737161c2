package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storybook-server/shared/models"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// ollamaClient реализует TextGenerator с использованием ollama/api (локальная разработка).
type ollamaClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
	prompts *PromptProvider
	logger  *zap.Logger
}

func newOllamaClient(baseURL, model string, timeout time.Duration, prompts *PromptProvider, logger *zap.Logger) (*ollamaClient, error) {
	// api.NewClient требует URL без суффикса /v1
	ollamaBaseURL := strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/v1")
	parsedURL, err := url.Parse(ollamaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", ollamaBaseURL, err)
	}
	return &ollamaClient{
		client:  api.NewClient(parsedURL, &http.Client{}),
		model:   model,
		timeout: timeout,
		prompts: prompts,
		logger:  logger.Named("OllamaClient"),
	}, nil
}

func (c *ollamaClient) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	systemPrompt, err := c.prompts.Render(req.PromptID, req.Variables)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, err)
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: req.Input},
		},
		Stream: &stream,
		Format: outputSchemaJSON(req.PromptID),
	}

	requestCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	started := time.Now()
	var resp api.ChatResponse
	err = c.client.Chat(requestCtx, chatReq, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		observeRequest(c.model, kindText, "error", started)
		c.logger.Warn("Ollama chat failed", zap.String("prompt_id", req.PromptID), zap.Duration("duration", time.Since(started)), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, err)
	}

	text := resp.Message.Content
	if strings.TrimSpace(text) == "" {
		observeRequest(c.model, kindText, "error_empty_response", started)
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, models.ErrEmptyAIResponse)
	}

	observeRequest(c.model, kindText, "success", started)
	usage := UsageInfo{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}
	if usage.TotalTokens == 0 {
		usage = estimateUsage(c.model, systemPrompt+"\n"+req.Input, text)
	}
	observeUsage(c.model, usage)
	return text, nil
}
