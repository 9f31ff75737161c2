package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"storybook-server/shared/models"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiImageClient генерирует изображения моделью Gemini с модальностью IMAGE.
// Референсные фото передаются inline, промпт собирается из локального каталога и текстовых частей запроса.
type GeminiImageClient struct {
	client  *genai.Client
	model   string
	prompts *PromptProvider
	refs    *ReferenceImageFetcher
	logger  *zap.Logger
}

func NewGeminiImageClient(ctx context.Context, apiKey, model string, prompts *PromptProvider, refs *ReferenceImageFetcher, logger *zap.Logger) (*GeminiImageClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if model == "" {
		model = "gemini-2.5-flash-image"
	}
	return &GeminiImageClient{client: client, model: model, prompts: prompts, refs: refs, logger: logger.Named("GeminiImageClient")}, nil
}

func (c *GeminiImageClient) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	var texts []string
	if req.PromptID != "" {
		instruction, err := c.prompts.Render(req.PromptID, req.Variables)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, err)
		}
		texts = append(texts, instruction)
	}
	texts = append(texts, req.Texts()...)

	parts := []*genai.Part{{Text: strings.Join(texts, "\n\n")}}
	for _, url := range req.ImageURLs() {
		ref, err := c.refs.Fetch(ctx, url)
		if err != nil {
			// без фото ребенка иллюстрация теряет смысл
			return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, err)
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: ref.Data, MIMEType: ref.MIMEType}})
	}

	started := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: parts}},
		&genai.GenerateContentConfig{ResponseModalities: []string{"IMAGE", "TEXT"}},
	)
	if err != nil {
		observeRequest(c.model, kindImage, "error", started)
		c.logger.Warn("Gemini image request failed", zap.String("prompt_id", req.PromptID), zap.String("user_id", req.UserID), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, err)
	}

	data, err := extractGeminiImage(resp)
	if err != nil {
		observeRequest(c.model, kindImage, "error_no_image", started)
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, err)
	}

	observeRequest(c.model, kindImage, "success", started)
	if resp.UsageMetadata != nil {
		observeUsage(c.model, UsageInfo{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		})
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// extractGeminiImage достает первое inline-изображение. Блокировки по безопасности
// превращаются в ErrContentRefused, чтобы цикл уточнения переписал промпт.
func extractGeminiImage(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil {
		return nil, models.ErrEmptyAIResponse
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: prompt blocked (%s) %s", models.ErrContentRefused, resp.PromptFeedback.BlockReason, resp.PromptFeedback.BlockReasonMessage)
	}
	if len(resp.Candidates) == 0 {
		return nil, models.ErrEmptyAIResponse
	}

	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
					return part.InlineData.Data, nil
				}
			}
		}
	}

	reason := string(resp.Candidates[0].FinishReason)
	if isGeminiSafetyReason(reason) {
		return nil, fmt.Errorf("%w: finish reason %s", models.ErrContentRefused, reason)
	}
	return nil, fmt.Errorf("%w: finish reason %s", models.ErrNoImagePayload, reason)
}

func isGeminiSafetyReason(reason string) bool {
	switch reason {
	case string(genai.FinishReasonSafety), string(genai.FinishReasonProhibitedContent),
		string(genai.FinishReasonBlocklist), string(genai.FinishReasonSPII):
		return true
	}
	return strings.Contains(reason, "SAFETY")
}
