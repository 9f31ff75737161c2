// Package pipeline собирает историю целиком: заголовки, текст страниц, промпты,
// изображения, контрольные точки прогресса и уведомление о готовности.
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"
	"storybook-server/shared/storage"
	"storybook-server/story-generator/internal/ai"
	"storybook-server/story-generator/internal/config"
	"storybook-server/story-generator/internal/refinement"
	"storybook-server/story-generator/internal/retry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	storiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_generator_stories_total",
		Help: "Full story runs by outcome.",
	}, []string{"outcome"}) // completed | partial | no_reference | failed
	pageImagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_generator_page_images_total",
		Help: "Page image generation results.",
	}, []string{"status"}) // success | error
	storyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "story_generator_story_duration_seconds",
		Help:    "Duration of a full story run.",
		Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800},
	})
)

// Deps - внешние зависимости оркестратора.
type Deps struct {
	Gateway    interfaces.StoryDocumentGateway
	Text       ai.TextGenerator
	Image      ai.ImageGenerator
	Storage    interfaces.ObjectStorage
	Notifier   interfaces.NotificationGateway
	Progress   interfaces.ProgressPublisher // может быть nil
	Locker     interfaces.Locker
	Logger     *zap.Logger
	Refinement *refinement.Loop // nil - создается из Text, Image и ImagePolicy
}

// Options - настройки поведения.
type Options struct {
	ImageMode        string // config.ImageModeRefine | config.ImageModeRetry
	TextPolicy       retry.Policy
	ImagePolicy      retry.Policy
	LockTTL          time.Duration
	StoryLinkBaseURL string
	// PickTitle возвращает индекс в [0, n). По умолчанию равномерно случайный.
	PickTitle func(n int) int
}

// DefaultOptions - канонический режим (цикл уточнения) и политика повторов 3 x 1s.
func DefaultOptions() Options {
	return Options{
		ImageMode:   config.ImageModeRefine,
		TextPolicy:  retry.DefaultPolicy(),
		ImagePolicy: retry.DefaultPolicy(),
		LockTTL:     30 * time.Minute,
		PickTitle:   rand.Intn,
	}
}

// OptionsFromConfig переносит настройки из конфигурации сервиса.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.ImageMode = cfg.ImageMode
	opts.TextPolicy.MaxRetries = cfg.AIMaxAttempts
	opts.TextPolicy.BaseDelay = cfg.AIBaseRetryDelay
	opts.ImagePolicy.MaxRetries = cfg.AIMaxAttempts
	opts.ImagePolicy.BaseDelay = cfg.AIBaseRetryDelay
	opts.LockTTL = cfg.LockTTL
	opts.StoryLinkBaseURL = cfg.StoryLinkBaseURL
	return opts
}

// Orchestrator выполняет операции генерации историй.
type Orchestrator struct {
	gateway  interfaces.StoryDocumentGateway
	text     ai.TextGenerator
	image    ai.ImageGenerator
	storage  interfaces.ObjectStorage
	notifier interfaces.NotificationGateway
	progress interfaces.ProgressPublisher
	locker   interfaces.Locker
	loop     *refinement.Loop
	opts     Options
	logger   *zap.Logger
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.PickTitle == nil {
		opts.PickTitle = rand.Intn
	}
	if opts.ImageMode == "" {
		opts.ImageMode = config.ImageModeRefine
	}
	if opts.ImagePolicy.IsNonRetryable == nil {
		opts.ImagePolicy.IsNonRetryable = retry.IsNonRetryable
	}
	if opts.TextPolicy.IsNonRetryable == nil {
		opts.TextPolicy.IsNonRetryable = retry.IsNonRetryable
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loop := deps.Refinement
	if loop == nil {
		loop = refinement.New(deps.Text, deps.Image, opts.ImagePolicy, logger)
	}
	return &Orchestrator{
		gateway:  deps.Gateway,
		text:     deps.Text,
		image:    deps.Image,
		storage:  deps.Storage,
		notifier: deps.Notifier,
		progress: deps.Progress,
		locker:   deps.Locker,
		loop:     loop,
		opts:     opts,
		logger:   logger.Named("Orchestrator"),
	}
}

// requireCaller возвращает ErrUnauthorized, если в контексте нет проверенной личности.
func requireCaller(ctx context.Context) (models.Identity, error) {
	id, ok := models.IdentityFromContext(ctx)
	if !ok {
		return models.Identity{}, fmt.Errorf("%w: caller identity is missing", models.ErrUnauthorized)
	}
	return id, nil
}

func (o *Orchestrator) tracker(story *models.Story, logger *zap.Logger) *ProgressTracker {
	return newProgressTracker(story, o.gateway, o.progress, logger)
}

// lock берет блокировку по ключу; без Locker операции не блокируются.
func (o *Orchestrator) lock(ctx context.Context, key string) (func(), error) {
	if o.locker == nil {
		return func() {}, nil
	}
	release, err := o.locker.Acquire(ctx, key, o.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	return func() {
		// Блокировка снимается и после отмены ctx запроса.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			o.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func storyLockKey(storyID string) string { return "story:" + storyID }

func pageLockKey(storyID string, pageNum int) string {
	return fmt.Sprintf("story:%s:page:%d", storyID, pageNum)
}

// generateText вызывает текстовую модель под политикой повторов.
func (o *Orchestrator) generateText(ctx context.Context, req ai.TextRequest) (string, error) {
	return retry.Do(ctx, o.opts.TextPolicy, func(ctx context.Context) (string, error) {
		return o.text.GenerateText(ctx, req)
	})
}

// generateImage вызывает модель изображений под политикой повторов.
func (o *Orchestrator) generateImage(ctx context.Context, req ai.ImageRequest) (string, error) {
	return retry.Do(ctx, o.opts.ImagePolicy, func(ctx context.Context) (string, error) {
		return o.image.GenerateImage(ctx, req)
	})
}

// upload декодирует base64 изображения и сохраняет его по пути path.
func (o *Orchestrator) upload(ctx context.Context, path, b64 string) (string, error) {
	data, err := decodeImage(b64)
	if err != nil {
		return "", err
	}
	url, err := o.storage.Upload(ctx, path, data, storage.PNGContentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload image to '%s': %w", path, err)
	}
	return url, nil
}

func decodeImage(b64 string) ([]byte, error) {
	s := strings.TrimSpace(b64)
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i > 0 {
		s = s[i+len(";base64,"):]
	}
	if s == "" {
		return nil, models.ErrNoImagePayload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", models.ErrNoImagePayload, err)
	}
	return data, nil
}

// notifyIfComplete отправляет уведомление "история готова", если у всех страниц есть изображения.
// MarkReadyNotified гарантирует, что уведомление уйдет не более одного раза.
func (o *Orchestrator) notifyIfComplete(ctx context.Context, story *models.Story, kidName string) bool {
	if story == nil || !story.AllPagesHaveImages() {
		return false
	}
	log := o.logger.With(zap.String("story_id", story.ID))

	if err := o.gateway.MarkReadyNotified(ctx, story.ID); err != nil {
		if errors.Is(err, models.ErrAlreadyNotified) {
			return true
		}
		log.Error("Failed to mark story as notified", zap.Error(err))
		return false
	}

	if kidName == "" && story.KidID != "" {
		if kid, err := o.gateway.GetKid(ctx, story.KidID); err == nil {
			kidName = kid.Name
		}
	}
	note := interfaces.StoryReadyNotification{
		StoryID:   story.ID,
		AccountID: story.AccountID,
		UserID:    story.UserID,
		KidName:   kidName,
		Title:     story.Title,
		Link:      o.storyLink(story.ID),
	}
	if err := o.notifier.NotifyStoryReady(ctx, note); err != nil {
		log.Error("Story ready notification failed", zap.Error(err))
		return true
	}
	log.Info("Story ready notification sent", zap.Int("pages", len(story.Pages)))
	return true
}

func (o *Orchestrator) storyLink(storyID string) string {
	if o.opts.StoryLinkBaseURL == "" {
		return ""
	}
	return strings.TrimRight(o.opts.StoryLinkBaseURL, "/") + "/" + storyID
}

// GetStory возвращает документ истории для опроса прогресса.
func (o *Orchestrator) GetStory(ctx context.Context, storyID string) (*models.Story, error) {
	if _, err := requireCaller(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(storyID) == "" {
		return nil, fmt.Errorf("%w: storyId is required", models.ErrInvalidInput)
	}
	return o.gateway.GetStory(ctx, storyID)
}
