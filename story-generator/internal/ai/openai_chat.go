package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"storybook-server/shared/models"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// openAIChatClient реализует TextGenerator через chat completions (go-openai).
// Промпт берется из локального каталога и отправляется как system-сообщение.
type openAIChatClient struct {
	client  *openaigo.Client
	model   string
	prompts *PromptProvider
	logger  *zap.Logger
}

func newOpenAIChatClient(apiKey, baseURL, model string, timeout time.Duration, prompts *PromptProvider, logger *zap.Logger) *openAIChatClient {
	openaiConfig := openaigo.DefaultConfig(apiKey)
	if baseURL != "" {
		openaiConfig.BaseURL = baseURL
	}
	openaiConfig.HTTPClient = &http.Client{Timeout: timeout}
	return &openAIChatClient{
		client:  openaigo.NewClientWithConfig(openaiConfig),
		model:   model,
		prompts: prompts,
		logger:  logger.Named("OpenAIChatClient"),
	}
}

// GenerateText генерирует текст на основе системного промта и ввода пользователя
func (c *openAIChatClient) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	systemPrompt, err := c.prompts.Render(req.PromptID, req.Variables)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, err)
	}

	chatReq := openaigo.ChatCompletionRequest{
		Model: c.model,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openaigo.ChatMessageRoleUser, Content: req.Input},
		},
		User: req.UserID,
	}
	if schema := OutputSchema(req.PromptID); schema != nil {
		chatReq.ResponseFormat = &openaigo.ChatCompletionResponseFormat{
			Type: openaigo.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openaigo.ChatCompletionResponseFormatJSONSchema{
				Name:   req.PromptID,
				Schema: schema,
				Strict: true,
			},
		}
	}

	started := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		observeRequest(c.model, kindText, "error", started)
		c.logger.Warn("Chat completion failed", zap.String("prompt_id", req.PromptID), zap.String("user_id", req.UserID), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, err)
	}

	if len(resp.Choices) == 0 {
		observeRequest(c.model, kindText, "error_empty_response", started)
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, models.ErrEmptyAIResponse)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openaigo.FinishReasonContentFilter || choice.Message.Refusal != "" {
		observeRequest(c.model, kindText, "error_refused", started)
		return "", fmt.Errorf("%w: %w: %s", ErrAIGenerationFailed, models.ErrContentRefused, choice.Message.Refusal)
	}
	text := choice.Message.Content
	if strings.TrimSpace(text) == "" {
		observeRequest(c.model, kindText, "error_empty_response", started)
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, models.ErrEmptyAIResponse)
	}

	observeRequest(c.model, kindText, "success", started)
	usage := UsageInfo{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage = estimateUsage(c.model, systemPrompt+"\n"+req.Input, text)
	}
	observeUsage(c.model, usage)

	c.logger.Debug("Chat completion received",
		zap.String("prompt_id", req.PromptID),
		zap.Int("length", len(text)),
		zap.Int("total_tokens", usage.TotalTokens),
		zap.Duration("duration", time.Since(started)),
	)
	return text, nil
}
