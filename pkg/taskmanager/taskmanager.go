// Package taskmanager выполняет задачи генерации внутри процесса API,
// когда очередь RabbitMQ не используется (локальный запуск, один инстанс).
package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"storybook-server/shared/messaging"
	"storybook-server/shared/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TaskHandler исполняет одну задачу. Реализуется worker.TaskHandler.
type TaskHandler interface {
	Handle(ctx context.Context, task messaging.StoryTask) error
}

// Task - состояние задачи, принятой менеджером.
type Task struct {
	ID        string
	Type      messaging.TaskType
	StoryID   string
	Status    TaskStatus
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time

	cancel context.CancelFunc
}

// TaskStatus представляет статус задачи
type TaskStatus string

// Возможные статусы задач
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) active() bool {
	return s == TaskStatusPending || s == TaskStatusRunning
}

// Config содержит конфигурацию для TaskManager
type Config struct {
	MaxTasks int           // одновременно активных задач
	Retain   time.Duration // сколько хранить завершенные задачи
}

// TaskManager управляет фоновыми задачами генерации.
type TaskManager struct {
	handler  TaskHandler
	logger   zerolog.Logger
	maxTasks int
	retain   time.Duration

	mu      sync.RWMutex
	tasks   map[string]*Task
	closing bool
	wg      sync.WaitGroup
}

// New создает новый экземпляр TaskManager
func New(cfg Config, handler TaskHandler, logger zerolog.Logger) *TaskManager {
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}
	retain := cfg.Retain
	if retain <= 0 {
		retain = time.Hour
	}
	return &TaskManager{
		handler:  handler,
		logger:   logger.With().Str("component", "TaskManager").Logger(),
		maxTasks: maxTasks,
		retain:   retain,
		tasks:    make(map[string]*Task),
	}
}

// PublishStoryTask принимает задачу и запускает ее в отдельной горутине.
// Контекст запроса не наследуется: задача живет дольше HTTP ответа.
func (tm *TaskManager) PublishStoryTask(_ context.Context, st messaging.StoryTask) error {
	if st.TaskID == "" {
		st.TaskID = uuid.NewString()
	}

	tm.mu.Lock()
	if tm.closing {
		tm.mu.Unlock()
		return errors.New("task manager is shutting down")
	}
	tm.cleanupLocked(time.Now())
	active := 0
	for _, t := range tm.tasks {
		if t.Status.active() {
			active++
		}
	}
	if active >= tm.maxTasks {
		tm.mu.Unlock()
		return fmt.Errorf("%w: limit %d", models.ErrTooManyTasks, tm.maxTasks)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	task := &Task{
		ID:        st.TaskID,
		Type:      st.Type,
		StoryID:   st.StoryID,
		Status:    TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		cancel:    cancel,
	}
	tm.tasks[task.ID] = task
	tm.wg.Add(1)
	tm.mu.Unlock()

	go func() {
		defer tm.wg.Done()
		defer cancel()
		tm.runTask(ctx, task, st)
	}()
	return nil
}

// runTask выполняет задачу и обновляет ее статус
func (tm *TaskManager) runTask(ctx context.Context, task *Task, st messaging.StoryTask) {
	log := tm.logger.With().Str("taskID", task.ID).Str("storyID", task.StoryID).Str("type", string(task.Type)).Logger()
	tm.updateTaskStatus(task, TaskStatusRunning, "")

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Task panicked")
			tm.updateTaskStatus(task, TaskStatusFailed, fmt.Sprintf("panic: %v", r))
		}
	}()

	err := tm.handler.Handle(ctx, st)
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		log.Info().Msg("Task cancelled")
		tm.updateTaskStatus(task, TaskStatusCancelled, "cancelled")
	case err != nil:
		log.Error().Err(err).Msg("Task failed")
		tm.updateTaskStatus(task, TaskStatusFailed, err.Error())
	default:
		log.Info().Msg("Task completed")
		tm.updateTaskStatus(task, TaskStatusCompleted, "")
	}
}

func (tm *TaskManager) updateTaskStatus(task *Task, status TaskStatus, message string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if !task.Status.active() {
		return
	}
	task.Status = status
	task.Message = message
	task.UpdatedAt = time.Now()
}

// GetTask возвращает копию состояния задачи.
func (tm *TaskManager) GetTask(taskID string) (Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: task %s", models.ErrNotFound, taskID)
	}
	out := *task
	out.cancel = nil
	return out, nil
}

// CancelTask отменяет выполнение задачи
func (tm *TaskManager) CancelTask(taskID string) error {
	tm.mu.RLock()
	task, ok := tm.tasks[taskID]
	var active bool
	if ok {
		active = task.Status.active()
	}
	tm.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: task %s", models.ErrNotFound, taskID)
	}
	if !active {
		return fmt.Errorf("%w: task %s is already finished", models.ErrStoryNotReady, taskID)
	}
	task.cancel()
	return nil
}

// cleanupLocked удаляет завершенные задачи старше retain. Вызывается под mu.
func (tm *TaskManager) cleanupLocked(now time.Time) {
	for id, task := range tm.tasks {
		if !task.Status.active() && now.Sub(task.UpdatedAt) > tm.retain {
			delete(tm.tasks, id)
		}
	}
}

// Shutdown перестает принимать задачи и ждет активные до дедлайна ctx.
// По дедлайну оставшиеся задачи отменяются.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.mu.Lock()
	tm.closing = true
	tm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		tm.mu.RLock()
		for _, task := range tm.tasks {
			if task.Status.active() {
				task.cancel()
			}
		}
		tm.mu.RUnlock()
		<-done
		return errors.New("таймаут при ожидании завершения задач")
	}
}
