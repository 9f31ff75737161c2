package taskmanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"storybook-server/shared/messaging"
	"storybook-server/shared/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFunc func(ctx context.Context, task messaging.StoryTask) error

func (f handlerFunc) Handle(ctx context.Context, task messaging.StoryTask) error { return f(ctx, task) }

func storyTask(id string) messaging.StoryTask {
	return messaging.StoryTask{TaskID: id, Type: messaging.TaskTypeResumeStory, StoryID: "story-" + id, UserID: "user-1"}
}

func waitStatus(t *testing.T, tm *TaskManager, id string, want TaskStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		task, err := tm.GetTask(id)
		return err == nil && task.Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTaskManager_RunsTask(t *testing.T) {
	got := make(chan messaging.StoryTask, 1)
	tm := New(Config{}, handlerFunc(func(_ context.Context, task messaging.StoryTask) error {
		got <- task
		return nil
	}), zerolog.Nop())

	require.NoError(t, tm.PublishStoryTask(context.Background(), storyTask("t1")))

	select {
	case task := <-got:
		assert.Equal(t, "story-t1", task.StoryID)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not executed")
	}
	waitStatus(t, tm, "t1", TaskStatusCompleted)
}

func TestTaskManager_FailedTask(t *testing.T) {
	tm := New(Config{}, handlerFunc(func(context.Context, messaging.StoryTask) error {
		return errors.New("model unavailable")
	}), zerolog.Nop())

	require.NoError(t, tm.PublishStoryTask(context.Background(), storyTask("t1")))
	waitStatus(t, tm, "t1", TaskStatusFailed)

	task, err := tm.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, "model unavailable", task.Message)
}

func TestTaskManager_LimitAndCancel(t *testing.T) {
	release := make(chan struct{})
	tm := New(Config{MaxTasks: 1}, handlerFunc(func(ctx context.Context, _ messaging.StoryTask) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return nil
		}
	}), zerolog.Nop())
	defer close(release)

	require.NoError(t, tm.PublishStoryTask(context.Background(), storyTask("t1")))
	err := tm.PublishStoryTask(context.Background(), storyTask("t2"))
	assert.ErrorIs(t, err, models.ErrTooManyTasks)

	require.NoError(t, tm.CancelTask("t1"))
	waitStatus(t, tm, "t1", TaskStatusCancelled)
	assert.Error(t, tm.CancelTask("t1"))
	assert.ErrorIs(t, tm.CancelTask("missing"), models.ErrNotFound)
}

func TestTaskManager_GeneratesMissingID(t *testing.T) {
	tm := New(Config{}, handlerFunc(func(context.Context, messaging.StoryTask) error { return nil }), zerolog.Nop())
	require.NoError(t, tm.PublishStoryTask(context.Background(), storyTask("")))

	tm.mu.RLock()
	defer tm.mu.RUnlock()
	require.Len(t, tm.tasks, 1)
	for id := range tm.tasks {
		assert.NotEmpty(t, id)
	}
}

func TestTaskManager_ShutdownCancelsOnDeadline(t *testing.T) {
	tm := New(Config{}, handlerFunc(func(ctx context.Context, _ messaging.StoryTask) error {
		<-ctx.Done()
		return ctx.Err()
	}), zerolog.Nop())
	require.NoError(t, tm.PublishStoryTask(context.Background(), storyTask("t1")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, tm.Shutdown(ctx))

	task, err := tm.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCancelled, task.Status)
	assert.Error(t, tm.PublishStoryTask(context.Background(), storyTask("t2")), "closed manager rejects tasks")
}
