package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storybook-server/shared/messaging"
	"storybook-server/shared/models"
	"storybook-server/story-generator/internal/pipeline"

	"go.uber.org/zap"
)

// StoryRunner - операции оркестратора, которые выполняет воркер.
type StoryRunner interface {
	Resume(ctx context.Context, storyID string) (*pipeline.FullStoryResult, error)
	RegenerateMissingImages(ctx context.Context, storyID string) (*pipeline.FullStoryResult, error)
}

var _ StoryRunner = (*pipeline.Orchestrator)(nil)

// Disposition - что консьюмер делает с сообщением после обработки.
type Disposition int

const (
	Ack     Disposition = iota // задача выполнена или повторять бессмысленно
	Requeue                    // временная ошибка, повторить один раз
	Reject                     // в DLQ
)

// ErrUnknownTaskType возвращается для задачи с неизвестным Type.
var ErrUnknownTaskType = errors.New("unknown story task type")

// TaskHandler выполняет задачи из очереди story_tasks.
type TaskHandler struct {
	runner  StoryRunner
	timeout time.Duration
	logger  *zap.Logger
}

// NewTaskHandler создает обработчик. timeout <= 0 - без ограничения сверх контекста консьюмера.
func NewTaskHandler(runner StoryRunner, timeout time.Duration, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		runner:  runner,
		timeout: timeout,
		logger:  logger.Named("TaskHandler"),
	}
}

// Handle выполняет задачу от имени ее владельца.
func (h *TaskHandler) Handle(ctx context.Context, task messaging.StoryTask) error {
	log := h.logger.With(
		zap.String("task_id", task.TaskID),
		zap.String("task_type", string(task.Type)),
		zap.String("story_id", task.StoryID),
		zap.String("user_id", task.UserID),
	)
	tasksReceived.WithLabelValues(string(task.Type)).Inc()

	if task.StoryID == "" || task.UserID == "" {
		tasksFailed.WithLabelValues("invalid_task").Inc()
		return fmt.Errorf("%w: storyId and userId are required", models.ErrInvalidInput)
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	// Задачу поставил API от имени проверенного пользователя, идентичность переносится в контекст воркера.
	ctx = models.WithIdentity(ctx, models.Identity{UID: task.UserID})

	start := time.Now()
	var (
		result *pipeline.FullStoryResult
		err    error
	)
	switch task.Type {
	case messaging.TaskTypeResumeStory:
		result, err = h.runner.Resume(ctx, task.StoryID)
	case messaging.TaskTypeMissingImages:
		result, err = h.runner.RegenerateMissingImages(ctx, task.StoryID)
	default:
		tasksFailed.WithLabelValues("unknown_type").Inc()
		return fmt.Errorf("%w: %q", ErrUnknownTaskType, task.Type)
	}
	taskDuration.WithLabelValues(string(task.Type)).Observe(time.Since(start).Seconds())

	if err != nil {
		tasksFailed.WithLabelValues(string(models.KindOf(err))).Inc()
		log.Error("Story task failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return err
	}

	tasksSucceeded.WithLabelValues(string(task.Type)).Inc()
	log.Info("Story task finished",
		zap.Bool("success", result.Success),
		zap.Int("images_generated", result.ImagesGenerated),
		zap.Int("pages", result.PagesCount),
		zap.String("message", result.Message),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// DispositionFor решает судьбу сообщения по ошибке обработки.
// Повторная доставка с внутренней ошибкой уходит в DLQ, чтобы задача не зациклилась.
func DispositionFor(err error, redelivered bool) Disposition {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, models.ErrLockNotAcquired):
		// историю уже генерирует другой процесс
		return Ack
	case errors.Is(err, ErrUnknownTaskType):
		return Reject
	case models.KindOf(err) != models.KindInternal:
		return Reject
	case redelivered:
		return Reject
	default:
		return Requeue
	}
}
