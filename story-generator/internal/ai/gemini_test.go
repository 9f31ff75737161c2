package ai

import (
	"testing"

	"storybook-server/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestExtractGeminiImage(t *testing.T) {
	t.Run("inline image", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "here you go"},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{1, 2, 3}}},
			}},
		}}}
		data, err := extractGeminiImage(resp)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, data)
	})

	t.Run("safety finish reason is refinable", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}
		_, err := extractGeminiImage(resp)
		assert.ErrorIs(t, err, models.ErrContentRefused)
	})

	t.Run("blocked prompt", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety}}
		_, err := extractGeminiImage(resp)
		assert.ErrorIs(t, err, models.ErrContentRefused)
	})

	t.Run("text only", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "no picture"}}},
		}}}
		_, err := extractGeminiImage(resp)
		assert.ErrorIs(t, err, models.ErrNoImagePayload)
	})

	t.Run("no candidates", func(t *testing.T) {
		_, err := extractGeminiImage(&genai.GenerateContentResponse{})
		assert.ErrorIs(t, err, models.ErrEmptyAIResponse)
	})
}
