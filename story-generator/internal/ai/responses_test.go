package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"storybook-server/shared/models"
	"storybook-server/story-generator/internal/config"

	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// responsesServer поднимает фейковый /v1/responses и сохраняет тело последнего запроса.
func responsesServer(t *testing.T, status int, body string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func testResponsesOptions(baseURL string) ResponsesOptions {
	return ResponsesOptions{
		APIKey:  "test-key",
		BaseURL: baseURL + "/v1",
		Model:   "gpt-test",
		PromptID: func(id string) string {
			return map[string]string{config.PromptStoryTitles: "pmpt_titles"}[id]
		},
	}
}

const usageJSON = `"usage":{"input_tokens":10,"output_tokens":5,"total_tokens":15}`

func TestResponsesTextClient_GenerateText(t *testing.T) {
	srv, captured := responsesServer(t, http.StatusOK, `{
		"id":"resp_1","status":"completed",
		"output":[{"type":"message","content":[{"type":"output_text","text":"{\"titles\":[\"A\"]}"}]}],
		`+usageJSON+`}`)

	client := NewResponsesTextClient(testResponsesOptions(srv.URL), zap.NewNop())
	text, err := client.GenerateText(context.Background(), TextRequest{
		UserID:    "u1",
		PromptID:  config.PromptStoryTitles,
		Variables: map[string]any{"name": "John", "age": 5},
		Input:     "Generate titles",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"titles":["A"]}`, text)

	body := *captured
	prompt := body["prompt"].(map[string]any)
	assert.Equal(t, "pmpt_titles", prompt["id"])
	assert.Equal(t, map[string]any{"name": "John", "age": "5"}, prompt["variables"])
	assert.Equal(t, "Generate titles", body["input"])
	assert.Equal(t, "gpt-test", body["model"])
	assert.NotNil(t, body["text"], "structured output format expected for titles")
}

func TestResponsesTextClient_Failures(t *testing.T) {
	t.Run("empty input rejected locally", func(t *testing.T) {
		client := NewResponsesTextClient(testResponsesOptions("http://127.0.0.1:1"), zap.NewNop())
		_, err := client.GenerateText(context.Background(), TextRequest{PromptID: "x", Input: "  "})
		assert.ErrorIs(t, err, ErrAIGenerationFailed)
	})

	t.Run("empty output", func(t *testing.T) {
		srv, _ := responsesServer(t, http.StatusOK, `{"id":"r","output":[],`+usageJSON+`}`)
		client := NewResponsesTextClient(testResponsesOptions(srv.URL), zap.NewNop())
		_, err := client.GenerateText(context.Background(), TextRequest{PromptID: "p", Input: "in"})
		assert.ErrorIs(t, err, models.ErrEmptyAIResponse)
	})

	t.Run("refusal", func(t *testing.T) {
		srv, _ := responsesServer(t, http.StatusOK, `{"id":"r","output":[{"type":"message","content":[{"type":"refusal","refusal":"I can't"}]}],`+usageJSON+`}`)
		client := NewResponsesTextClient(testResponsesOptions(srv.URL), zap.NewNop())
		_, err := client.GenerateText(context.Background(), TextRequest{PromptID: "p", Input: "in"})
		assert.ErrorIs(t, err, models.ErrContentRefused)
	})

	t.Run("http error keeps sdk error", func(t *testing.T) {
		srv, _ := responsesServer(t, http.StatusServiceUnavailable, `{"error":{"message":"overloaded","type":"server_error"}}`)
		client := NewResponsesTextClient(testResponsesOptions(srv.URL), zap.NewNop())
		_, err := client.GenerateText(context.Background(), TextRequest{PromptID: "p", Input: "in"})
		require.Error(t, err)
		var apiErr *openai.Error
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	})
}

func TestResponsesImageClient_GenerateImage(t *testing.T) {
	srv, captured := responsesServer(t, http.StatusOK, `{
		"id":"resp_2",
		"output":[{"type":"image_generation_call","status":"completed","result":"aGVsbG8="}],
		`+usageJSON+`}`)

	client := NewResponsesImageClient(testResponsesOptions(srv.URL), zap.NewNop())
	b64, err := client.GenerateImage(context.Background(), ImageRequest{
		UserID: "u1",
		Input:  []ContentBlock{UserBlock(TextPart("a happy boy"), ImagePart("https://img/kid.png"))},
	})
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", b64)

	body := *captured
	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "image_generation", tools[0].(map[string]any)["type"])

	input := body["input"].([]any)
	content := input[0].(map[string]any)["content"].([]any)
	assert.Equal(t, "input_image", content[1].(map[string]any)["type"])
	assert.Equal(t, "https://img/kid.png", content[1].(map[string]any)["image_url"])
}

func TestResponsesImageClient_Failures(t *testing.T) {
	t.Run("no image payload", func(t *testing.T) {
		srv, _ := responsesServer(t, http.StatusOK, `{"id":"r","output":[{"type":"message","content":[{"type":"output_text","text":"sorry"}]}],`+usageJSON+`}`)
		client := NewResponsesImageClient(testResponsesOptions(srv.URL), zap.NewNop())
		_, err := client.GenerateImage(context.Background(), ImageRequest{Input: []ContentBlock{UserBlock(TextPart("x"))}})
		assert.ErrorIs(t, err, models.ErrNoImagePayload)
	})

	t.Run("moderation failure in body", func(t *testing.T) {
		srv, _ := responsesServer(t, http.StatusOK, `{"id":"r","status":"failed","error":{"code":"moderation_blocked","message":"blocked"},"output":[]}`)
		client := NewResponsesImageClient(testResponsesOptions(srv.URL), zap.NewNop())
		_, err := client.GenerateImage(context.Background(), ImageRequest{Input: []ContentBlock{UserBlock(TextPart("x"))}})
		assert.ErrorIs(t, err, models.ErrContentRefused)
	})

	t.Run("empty input", func(t *testing.T) {
		client := NewResponsesImageClient(testResponsesOptions("http://127.0.0.1:1"), zap.NewNop())
		_, err := client.GenerateImage(context.Background(), ImageRequest{})
		assert.ErrorIs(t, err, ErrAIGenerationFailed)
	})
}
