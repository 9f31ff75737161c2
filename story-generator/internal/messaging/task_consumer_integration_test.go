package messaging_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"storybook-server/shared/messaging"
	"storybook-server/shared/models"
	consumer "storybook-server/story-generator/internal/messaging"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// handlerFunc позволяет задать поведение обработчика прямо в тесте.
type handlerFunc func(ctx context.Context, task messaging.StoryTask) error

func (f handlerFunc) Handle(ctx context.Context, task messaging.StoryTask) error { return f(ctx, task) }

type TaskConsumerSuite struct {
	suite.Suite
	ctx          context.Context
	rmqContainer *rabbitmq.RabbitMQContainer
	conn         *amqp091.Connection
	publisher    *messaging.RabbitMQPublisher
}

func (s *TaskConsumerSuite) SetupSuite() {
	s.ctx = context.Background()

	var err error
	s.rmqContainer, err = rabbitmq.Run(s.ctx,
		"rabbitmq:3-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete"),
		),
	)
	require.NoError(s.T(), err)

	url, err := s.rmqContainer.AmqpURL(s.ctx)
	require.NoError(s.T(), err)
	s.conn, err = amqp091.Dial(url)
	require.NoError(s.T(), err)

	s.publisher, err = messaging.NewRabbitMQPublisher(s.conn, zap.NewNop())
	require.NoError(s.T(), err)
}

func (s *TaskConsumerSuite) TearDownSuite() {
	if s.publisher != nil {
		_ = s.publisher.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.rmqContainer != nil {
		_ = s.rmqContainer.Terminate(s.ctx)
	}
}

func (s *TaskConsumerSuite) SetupTest() {
	ch, err := s.conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()
	_, err = ch.QueuePurge(messaging.StoryTasksQueueName, false)
	s.Require().NoError(err)
	_, err = ch.QueuePurge(messaging.StoryTasksDLQName, false)
	s.Require().NoError(err)
}

func (s *TaskConsumerSuite) dlqDepth() int {
	ch, err := s.conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()
	q, err := ch.QueueDeclarePassive(messaging.StoryTasksDLQName, true, false, false, false, nil)
	s.Require().NoError(err)
	return q.Messages
}

func (s *TaskConsumerSuite) publish(task messaging.StoryTask) {
	s.Require().NoError(s.publisher.PublishStoryTask(s.ctx, task))
}

func (s *TaskConsumerSuite) TestDeliversTaskAndAcks() {
	var (
		mu   sync.Mutex
		seen []messaging.StoryTask
	)
	handled := make(chan struct{}, 1)
	handler := handlerFunc(func(ctx context.Context, task messaging.StoryTask) error {
		mu.Lock()
		seen = append(seen, task)
		mu.Unlock()
		handled <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	c := consumer.NewTaskConsumer(s.conn, handler, 1, zap.NewNop())
	s.Require().NoError(c.Start(ctx))
	defer c.Stop(5 * time.Second)

	s.publish(messaging.StoryTask{TaskID: "t-1", Type: messaging.TaskTypeResumeStory, StoryID: "story-1", UserID: "user-1"})

	select {
	case <-handled:
	case <-time.After(10 * time.Second):
		s.FailNow("task was not delivered")
	}
	mu.Lock()
	s.Equal("story-1", seen[0].StoryID)
	s.Equal(messaging.TaskTypeResumeStory, seen[0].Type)
	mu.Unlock()
	s.Equal(0, s.dlqDepth())
}

func (s *TaskConsumerSuite) TestPermanentFailureGoesToDLQ() {
	handler := handlerFunc(func(ctx context.Context, task messaging.StoryTask) error {
		return models.ErrStoryNotFound
	})

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	c := consumer.NewTaskConsumer(s.conn, handler, 1, zap.NewNop())
	s.Require().NoError(c.Start(ctx))
	defer c.Stop(5 * time.Second)

	s.publish(messaging.StoryTask{TaskID: "t-2", Type: messaging.TaskTypeResumeStory, StoryID: "missing", UserID: "user-1"})

	s.Eventually(func() bool { return s.dlqDepth() == 1 }, 10*time.Second, 100*time.Millisecond)
}

func (s *TaskConsumerSuite) TestTransientFailureRetriedOnceThenDLQ() {
	var (
		mu       sync.Mutex
		attempts int
	)
	handler := handlerFunc(func(ctx context.Context, task messaging.StoryTask) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return context.DeadlineExceeded
	})

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	c := consumer.NewTaskConsumer(s.conn, handler, 1, zap.NewNop())
	s.Require().NoError(c.Start(ctx))
	defer c.Stop(5 * time.Second)

	s.publish(messaging.StoryTask{TaskID: "t-3", Type: messaging.TaskTypeResumeStory, StoryID: "story-3", UserID: "user-1"})

	s.Eventually(func() bool { return s.dlqDepth() == 1 }, 10*time.Second, 100*time.Millisecond)
	mu.Lock()
	s.Equal(2, attempts)
	mu.Unlock()
}

func (s *TaskConsumerSuite) TestMalformedBodyGoesToDLQ() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	c := consumer.NewTaskConsumer(s.conn, handlerFunc(func(context.Context, messaging.StoryTask) error {
		s.Fail("handler must not be called for malformed body")
		return nil
	}), 1, zap.NewNop())
	s.Require().NoError(c.Start(ctx))
	defer c.Stop(5 * time.Second)

	ch, err := s.conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()
	s.Require().NoError(ch.PublishWithContext(s.ctx, "", messaging.StoryTasksQueueName, false, false,
		amqp091.Publishing{ContentType: "application/json", Body: []byte("{not json")}))

	s.Eventually(func() bool { return s.dlqDepth() == 1 }, 10*time.Second, 100*time.Millisecond)
}

func TestTaskConsumerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	suite.Run(t, new(TaskConsumerSuite))
}
