package refinement_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"storybook-server/shared/models"
	"storybook-server/story-generator/internal/ai"
	"storybook-server/story-generator/internal/config"
	"storybook-server/story-generator/internal/mocks"
	"storybook-server/story-generator/internal/refinement"
	"storybook-server/story-generator/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sleeps struct {
	delays []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newLoop(t *testing.T) (*refinement.Loop, *mocks.MockTextGenerator, *mocks.MockImageGenerator, *sleeps, *sleeps) {
	text := mocks.NewMockTextGenerator(t)
	image := mocks.NewMockImageGenerator(t)
	loopSleeps := &sleeps{}
	retrySleeps := &sleeps{}

	policy := retry.DefaultPolicy()
	policy.Sleep = retrySleeps.sleep

	loop := refinement.New(text, image, policy, zap.NewNop(), refinement.WithSleep(loopSleeps.sleep))
	return loop, text, image, loopSleeps, retrySleeps
}

var input = refinement.Input{
	UserID:            "user-1",
	StoryID:           "story-1",
	PageNum:           2,
	PageText:          "John packs his school bag.",
	Gender:            "boy",
	Age:               8,
	ReferenceImageURL: "https://cdn/kid.png",
}

func TestLoop_AlwaysRefinableExhaustsAttempts(t *testing.T) {
	loop, text, image, loopSleeps, retrySleeps := newLoop(t)

	text.On("GenerateText", mock.Anything, mock.AnythingOfType("ai.TextRequest")).Return("a boy with a bag", nil).Times(refinement.MaxAttempts)
	image.On("GenerateImage", mock.Anything, mock.Anything).
		Return("", fmt.Errorf("image api: %w", models.ErrContentRefused)).Times(refinement.MaxAttempts)

	_, err := loop.Run(context.Background(), input)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrRefinementExhausted)
	assert.ErrorIs(t, err, models.ErrContentRefused)
	text.AssertNumberOfCalls(t, "GenerateText", refinement.MaxAttempts)
	image.AssertNumberOfCalls(t, "GenerateImage", refinement.MaxAttempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, loopSleeps.delays)
	assert.Empty(t, retrySleeps.delays, "refinable errors must not be retried verbatim")
}

func TestLoop_NonRefinableFailsWithoutSecondPrompt(t *testing.T) {
	loop, text, image, loopSleeps, retrySleeps := newLoop(t)
	transient := errors.New("503 service unavailable")

	text.On("GenerateText", mock.Anything, mock.Anything).Return("a boy with a bag", nil).Once()
	image.On("GenerateImage", mock.Anything, mock.Anything).Return("", transient).Times(retry.DefaultMaxRetries)

	_, err := loop.Run(context.Background(), input)

	assert.ErrorIs(t, err, transient)
	assert.NotErrorIs(t, err, models.ErrRefinementExhausted)
	text.AssertNumberOfCalls(t, "GenerateText", 1)
	image.AssertNumberOfCalls(t, "GenerateImage", retry.DefaultMaxRetries)
	assert.Empty(t, loopSleeps.delays)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, retrySleeps.delays)
}

func TestLoop_RefinesPromptWithPreviousError(t *testing.T) {
	loop, text, image, loopSleeps, _ := newLoop(t)

	text.On("GenerateText", mock.Anything, mock.MatchedBy(func(req ai.TextRequest) bool {
		_, hasPrev := req.Variables["previousError"]
		return req.PromptID == config.PromptImagePrompt && !hasPrev && req.Input == input.PageText
	})).Return("first prompt", nil).Once()
	text.On("GenerateText", mock.Anything, mock.MatchedBy(func(req ai.TextRequest) bool {
		return req.Variables["attemptNumber"] == 2 &&
			req.Variables["previousError"] != nil &&
			req.Variables["gender"] == "boy" && req.Variables["age"] == 8 && req.Variables["pageNum"] == 2
	})).Return("second prompt", nil).Once()

	image.On("GenerateImage", mock.Anything, mock.MatchedBy(func(req ai.ImageRequest) bool {
		return len(req.Texts()) == 1 && req.Texts()[0] == "first prompt"
	})).Return("", errors.New("Your request was rejected by the safety system")).Once()
	image.On("GenerateImage", mock.Anything, mock.MatchedBy(func(req ai.ImageRequest) bool {
		return req.Texts()[0] == "second prompt" && req.ImageURLs()[0] == input.ReferenceImageURL
	})).Return("aW1n", nil).Once()

	res, err := loop.Run(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, refinement.Result{Prompt: "second prompt", ImageBase64: "aW1n", Attempts: 2}, res)
	assert.Equal(t, []time.Duration{time.Second}, loopSleeps.delays)
	text.AssertExpectations(t)
	image.AssertExpectations(t)
}

func TestLoop_SeedPromptSkipsFirstGeneration(t *testing.T) {
	loop, text, image, _, _ := newLoop(t)

	in := input
	in.SeedPrompt = "a boy at the school gate"
	image.On("GenerateImage", mock.Anything, mock.Anything).Return("aW1n", nil).Once()

	res, err := loop.Run(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, "a boy at the school gate", res.Prompt)
	assert.Equal(t, 1, res.Attempts)
	text.AssertNotCalled(t, "GenerateText", mock.Anything, mock.Anything)
}

func TestLoop_SeedPromptIsRepaired(t *testing.T) {
	loop, _, image, _, _ := newLoop(t)

	in := input
	in.SeedPrompt = `{"pages":[{"pageNum":0,"imagePrompt":"wrong"},{"pageNum":1,"imagePrompt":"wrong"},{"pageNum":2,"imagePrompt":"right"}]}`
	image.On("GenerateImage", mock.Anything, mock.Anything).Return("aW1n", nil).Once()

	res, err := loop.Run(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, "right", res.Prompt)
}

func TestLoop_PromptGenerationErrorPropagates(t *testing.T) {
	loop, text, image, _, _ := newLoop(t)
	boom := errors.New("text api down")

	text.On("GenerateText", mock.Anything, mock.Anything).Return("", boom).Once()

	_, err := loop.Run(context.Background(), input)

	assert.ErrorIs(t, err, boom)
	image.AssertNotCalled(t, "GenerateImage", mock.Anything, mock.Anything)
}
