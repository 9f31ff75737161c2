package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storybook-server/shared/models"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// Клиент OpenAI Responses API. Запросы идут через client.Post с собственными
// структурами: так передаются сохраненные промпты (prompt.id + variables) и
// инструмент image_generation без зависимости от версии типизированных параметров SDK.

type responsesPrompt struct {
	ID        string            `json:"id"`
	Variables map[string]string `json:"variables,omitempty"`
}

type responsesTool struct {
	Type string `json:"type"`
}

type responsesFormat struct {
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	Schema any    `json:"schema,omitempty"`
	Strict bool   `json:"strict,omitempty"`
}

type responsesTextConfig struct {
	Format responsesFormat `json:"format"`
}

type responsesRequest struct {
	Model      string               `json:"model,omitempty"`
	Prompt     *responsesPrompt     `json:"prompt,omitempty"`
	Input      any                  `json:"input"`
	User       string               `json:"user,omitempty"`
	Tools      []responsesTool      `json:"tools,omitempty"`
	ToolChoice *responsesTool       `json:"tool_choice,omitempty"`
	Text       *responsesTextConfig `json:"text,omitempty"`
}

type responsesContent struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Refusal string `json:"refusal"`
}

type responsesOutputItem struct {
	Type    string             `json:"type"`
	Status  string             `json:"status"`
	Content []responsesContent `json:"content"`
	Result  string             `json:"result"` // base64 для image_generation_call
}

type responsesResponse struct {
	ID     string                `json:"id"`
	Status string                `json:"status"`
	Output []responsesOutputItem `json:"output"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// failure переводит status=failed/incomplete в ошибку. Отказы модерации оборачивают ErrContentRefused.
func (r *responsesResponse) failure() error {
	if r.Error != nil && (r.Error.Code != "" || r.Error.Message != "") {
		err := fmt.Errorf("responses api error %s: %s", r.Error.Code, r.Error.Message)
		lower := strings.ToLower(r.Error.Code + " " + r.Error.Message)
		if strings.Contains(lower, "content_policy") || strings.Contains(lower, "moderation") || strings.Contains(lower, "safety") {
			return fmt.Errorf("%w: %v", models.ErrContentRefused, err)
		}
		return err
	}
	if r.IncompleteDetails != nil && r.IncompleteDetails.Reason == "content_filter" {
		return fmt.Errorf("%w: response incomplete (content_filter)", models.ErrContentRefused)
	}
	return nil
}

func (r *responsesResponse) text() (string, string) {
	var b strings.Builder
	var refusal string
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			switch c.Type {
			case "output_text":
				b.WriteString(c.Text)
			case "refusal":
				refusal = c.Refusal
			}
		}
	}
	return b.String(), refusal
}

func (r *responsesResponse) image() string {
	for _, item := range r.Output {
		if item.Type == "image_generation_call" && item.Result != "" {
			return item.Result
		}
	}
	return ""
}

func (r *responsesResponse) usage() UsageInfo {
	if r.Usage == nil {
		return UsageInfo{}
	}
	return UsageInfo{PromptTokens: r.Usage.InputTokens, CompletionTokens: r.Usage.OutputTokens, TotalTokens: r.Usage.TotalTokens}
}

// ResponsesOptions - параметры клиента Responses API.
type ResponsesOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// PromptID сопоставляет логический id промпта с id сохраненного промпта.
	PromptID func(logicalID string) string
}

func newOpenAIClient(opts ResponsesOptions) *openai.Client {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// повторы делает retry.Do, SDK не должен повторять сам
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimSuffix(opts.BaseURL, "/")+"/"))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	client := openai.NewClient(reqOpts...)
	return &client
}

func (o ResponsesOptions) remotePromptID(id string) string {
	if o.PromptID == nil {
		return id
	}
	return o.PromptID(id)
}

// ResponsesTextClient генерирует текст через сохраненные промпты Responses API.
type ResponsesTextClient struct {
	client *openai.Client
	opts   ResponsesOptions
	logger *zap.Logger
}

func NewResponsesTextClient(opts ResponsesOptions, logger *zap.Logger) *ResponsesTextClient {
	return &ResponsesTextClient{client: newOpenAIClient(opts), opts: opts, logger: logger.Named("ResponsesTextClient")}
}

// GenerateText выполняет один запрос к /responses.
func (c *ResponsesTextClient) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	body := responsesRequest{
		Model: c.opts.Model,
		Prompt: &responsesPrompt{
			ID:        c.opts.remotePromptID(req.PromptID),
			Variables: stringVariables(req.Variables),
		},
		Input: req.Input,
		User:  req.UserID,
	}
	if schema := OutputSchema(req.PromptID); schema != nil {
		body.Text = &responsesTextConfig{Format: responsesFormat{Type: "json_schema", Name: req.PromptID, Schema: schema, Strict: true}}
	}

	started := time.Now()
	var resp responsesResponse
	if err := c.client.Post(ctx, "responses", body, &resp); err != nil {
		observeRequest(c.opts.Model, kindText, "error", started)
		c.logger.Warn("Responses API request failed", zap.String("prompt_id", req.PromptID), zap.String("user_id", req.UserID), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, err)
	}
	if err := resp.failure(); err != nil {
		observeRequest(c.opts.Model, kindText, "error", started)
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, err)
	}

	text, refusal := resp.text()
	if strings.TrimSpace(text) == "" {
		observeRequest(c.opts.Model, kindText, "error_empty_response", started)
		if refusal != "" {
			return "", fmt.Errorf("%w: %w: %s", ErrAIGenerationFailed, models.ErrContentRefused, refusal)
		}
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, models.ErrEmptyAIResponse)
	}

	observeRequest(c.opts.Model, kindText, "success", started)
	usage := resp.usage()
	if usage.TotalTokens == 0 {
		usage = estimateUsage(c.opts.Model, req.Input, text)
	}
	observeUsage(c.opts.Model, usage)

	c.logger.Debug("Responses API text received",
		zap.String("prompt_id", req.PromptID),
		zap.String("response_id", resp.ID),
		zap.Int("length", len(text)),
		zap.Duration("duration", time.Since(started)),
	)
	return text, nil
}

// ResponsesImageClient генерирует изображения инструментом image_generation.
type ResponsesImageClient struct {
	client *openai.Client
	opts   ResponsesOptions
	logger *zap.Logger
}

func NewResponsesImageClient(opts ResponsesOptions, logger *zap.Logger) *ResponsesImageClient {
	return &ResponsesImageClient{client: newOpenAIClient(opts), opts: opts, logger: logger.Named("ResponsesImageClient")}
}

// GenerateImage возвращает base64 первого результата image_generation_call.
func (c *ResponsesImageClient) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	tool := responsesTool{Type: "image_generation"}
	body := responsesRequest{
		Model:      c.opts.Model,
		Input:      req.Input,
		User:       req.UserID,
		Tools:      []responsesTool{tool},
		ToolChoice: &tool,
	}
	if req.PromptID != "" {
		body.Prompt = &responsesPrompt{ID: c.opts.remotePromptID(req.PromptID), Variables: stringVariables(req.Variables)}
	}

	started := time.Now()
	var resp responsesResponse
	if err := c.client.Post(ctx, "responses", body, &resp); err != nil {
		observeRequest(c.opts.Model, kindImage, "error", started)
		c.logger.Warn("Responses API image request failed", zap.String("prompt_id", req.PromptID), zap.String("user_id", req.UserID), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, err)
	}
	if err := resp.failure(); err != nil {
		observeRequest(c.opts.Model, kindImage, "error", started)
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, err)
	}

	b64 := resp.image()
	if b64 == "" {
		observeRequest(c.opts.Model, kindImage, "error_no_image", started)
		if _, refusal := resp.text(); refusal != "" {
			return "", fmt.Errorf("%w: %w: %s", ErrAIGenerationFailed, models.ErrContentRefused, refusal)
		}
		return "", fmt.Errorf("%w: %w", ErrAIGenerationFailed, models.ErrNoImagePayload)
	}

	observeRequest(c.opts.Model, kindImage, "success", started)
	observeUsage(c.opts.Model, resp.usage())
	c.logger.Debug("Responses API image received", zap.String("response_id", resp.ID), zap.Int("b64_length", len(b64)), zap.Duration("duration", time.Since(started)))
	return b64, nil
}
