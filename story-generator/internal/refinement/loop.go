// Package refinement генерирует изображение страницы, переписывая промпт,
// когда модель изображений отказывает из-за его содержимого.
package refinement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"storybook-server/shared/models"
	"storybook-server/story-generator/internal/ai"
	"storybook-server/story-generator/internal/config"
	"storybook-server/story-generator/internal/retry"
	"storybook-server/story-generator/internal/schemas"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	MaxAttempts      = 3
	DefaultBaseDelay = time.Second
)

var (
	refinementAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "story_generator_refinement_attempts",
		Help:    "Number of prompt refinement attempts per page image.",
		Buckets: []float64{1, 2, 3},
	})
	refinementOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_generator_refinement_outcomes_total",
		Help: "Outcomes of the prompt refinement loop.",
	}, []string{"outcome"}) // success | exhausted | failed
)

// Input - данные одной страницы для генерации изображения.
type Input struct {
	UserID            string
	StoryID           string
	PageNum           int
	PageText          string
	Gender            string
	Age               int
	ReferenceImageURL string
	// SeedPrompt используется как есть на первой попытке вместо генерации промпта.
	SeedPrompt string
}

// Result - итог успешного прохода.
type Result struct {
	Prompt      string
	ImageBase64 string
	Attempts    int
}

// Loop - ограниченный цикл "промпт -> изображение -> классификация ошибки".
type Loop struct {
	text        ai.TextGenerator
	image       ai.ImageGenerator
	imagePolicy retry.Policy
	maxAttempts int
	baseDelay   time.Duration
	sleep       retry.SleepFunc
	logger      *zap.Logger
}

// Option настраивает Loop.
type Option func(*Loop)

// WithSleep подменяет ожидание между попытками (тесты).
func WithSleep(sleep retry.SleepFunc) Option {
	return func(l *Loop) { l.sleep = sleep }
}

// WithBaseDelay задает шаг линейной задержки между попытками.
func WithBaseDelay(d time.Duration) Option {
	return func(l *Loop) { l.baseDelay = d }
}

// New создает цикл. imagePolicy применяется к каждому вызову модели изображений;
// ее IsNonRetryable должен пропускать refinable ошибки наружу.
func New(text ai.TextGenerator, image ai.ImageGenerator, imagePolicy retry.Policy, logger *zap.Logger, opts ...Option) *Loop {
	if imagePolicy.IsNonRetryable == nil {
		imagePolicy.IsNonRetryable = retry.IsNonRetryable
	}
	l := &Loop{
		text:        text,
		image:       image,
		imagePolicy: imagePolicy,
		maxAttempts: MaxAttempts,
		baseDelay:   DefaultBaseDelay,
		sleep:       retry.SleepContext,
		logger:      logger.Named("RefinementLoop"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run выполняет до MaxAttempts попыток. Refinable ошибка ведет к новому промпту,
// любая другая возвращается сразу. После исчерпания попыток - ErrRefinementExhausted.
func (l *Loop) Run(ctx context.Context, in Input) (Result, error) {
	log := l.logger.With(zap.String("story_id", in.StoryID), zap.Int("page_num", in.PageNum))

	var lastErr error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		prompt, err := l.prompt(ctx, in, attempt, lastErr)
		if err != nil {
			refinementOutcomes.WithLabelValues("failed").Inc()
			refinementAttempts.Observe(float64(attempt))
			return Result{}, fmt.Errorf("image prompt generation failed on attempt %d: %w", attempt, err)
		}

		b64, err := retry.Do(ctx, l.imagePolicy, func(ctx context.Context) (string, error) {
			return l.image.GenerateImage(ctx, l.imageRequest(in, prompt))
		})
		if err == nil {
			refinementOutcomes.WithLabelValues("success").Inc()
			refinementAttempts.Observe(float64(attempt))
			if attempt > 1 {
				log.Info("Image generated after prompt refinement", zap.Int("attempt", attempt))
			}
			return Result{Prompt: prompt, ImageBase64: b64, Attempts: attempt}, nil
		}

		if !retry.IsRefinable(err) {
			refinementOutcomes.WithLabelValues("failed").Inc()
			refinementAttempts.Observe(float64(attempt))
			log.Warn("Image generation failed with non-refinable error", zap.Int("attempt", attempt), zap.Error(err))
			return Result{}, err
		}

		lastErr = err
		log.Warn("Image rejected, refining prompt", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < l.maxAttempts {
			if err := l.sleep(ctx, l.baseDelay*time.Duration(attempt)); err != nil {
				return Result{}, fmt.Errorf("refinement interrupted: %w", err)
			}
		}
	}

	refinementOutcomes.WithLabelValues("exhausted").Inc()
	refinementAttempts.Observe(float64(l.maxAttempts))
	return Result{}, fmt.Errorf("%w after %d attempts: %w", models.ErrRefinementExhausted, l.maxAttempts, lastErr)
}

func (l *Loop) prompt(ctx context.Context, in Input, attempt int, previous error) (string, error) {
	if attempt == 1 && in.SeedPrompt != "" {
		return schemas.RepairImagePrompt(in.SeedPrompt, in.PageNum), nil
	}

	vars := map[string]any{
		"gender":  in.Gender,
		"age":     in.Age,
		"pageNum": in.PageNum,
	}
	if attempt > 1 && previous != nil {
		vars["previousError"] = previous.Error()
		vars["attemptNumber"] = attempt
	}

	raw, err := l.text.GenerateText(ctx, ai.TextRequest{
		UserID:    in.UserID,
		PromptID:  config.PromptImagePrompt,
		Variables: vars,
		Input:     in.PageText,
	})
	if err != nil {
		return "", err
	}
	prompt := strings.TrimSpace(schemas.RepairImagePrompt(raw, in.PageNum))
	if prompt == "" {
		return "", errors.New("image prompt is empty")
	}
	return prompt, nil
}

func (l *Loop) imageRequest(in Input, prompt string) ai.ImageRequest {
	parts := []ai.ContentPart{ai.TextPart(prompt)}
	if in.ReferenceImageURL != "" {
		parts = append(parts, ai.ImagePart(in.ReferenceImageURL))
	}
	return ai.ImageRequest{
		UserID:    in.UserID,
		PromptID:  config.PromptPageImage,
		Variables: map[string]any{"pageNum": strconv.Itoa(in.PageNum)},
		Input:     []ai.ContentBlock{ai.UserBlock(parts...)},
	}
}
