package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storybook-server/shared/messaging"
	"storybook-server/story-generator/internal/worker"
)

// TaskHandler обрабатывает одну задачу генерации.
type TaskHandler interface {
	Handle(ctx context.Context, task messaging.StoryTask) error
}

// TaskConsumer читает задачи из очереди story_tasks с ручным подтверждением.
type TaskConsumer struct {
	conn     *amqp091.Connection
	handler  TaskHandler
	prefetch int
	logger   *zap.Logger
	done     chan struct{} // закрывается, когда все обработчики завершились
	channel  *amqp091.Channel
	tag      string
	wg       sync.WaitGroup
}

// NewTaskConsumer создает консьюмер. prefetch ограничивает число задач, выполняемых одновременно.
func NewTaskConsumer(conn *amqp091.Connection, handler TaskHandler, prefetch int, logger *zap.Logger) *TaskConsumer {
	if logger == nil {
		panic("Logger is nil for TaskConsumer")
	}
	if prefetch < 1 {
		prefetch = 1
	}
	return &TaskConsumer{
		conn:     conn,
		handler:  handler,
		prefetch: prefetch,
		logger:   logger.Named("TaskConsumer"),
		done:     make(chan struct{}),
		tag:      "story-worker",
	}
}

// Start объявляет топологию очереди задач и начинает потребление.
// Каждая доставка обрабатывается в своей горутине, параллелизм ограничен prefetch.
func (c *TaskConsumer) Start(ctx context.Context) error {
	var err error
	c.channel, err = c.conn.Channel()
	if err != nil {
		c.logger.Error("Failed to open channel for task consumer", zap.Error(err))
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := messaging.DeclareStoryTaskTopology(c.channel); err != nil {
		_ = c.channel.Close()
		c.logger.Error("Failed to declare story task topology", zap.Error(err))
		return err
	}

	if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := c.channel.Consume(
		messaging.StoryTasksQueueName,
		c.tag,
		false, // auto-ack: подтверждаем вручную после выполнения
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = c.channel.Close()
		c.logger.Error("Failed to register task consumer", zap.Error(err), zap.String("queue", messaging.StoryTasksQueueName))
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Task consumer started, waiting for tasks...",
		zap.String("queue", messaging.StoryTasksQueueName),
		zap.Int("prefetch", c.prefetch),
	)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Panic recovered in task consumer goroutine", zap.Any("panic", r))
			}
			c.wg.Wait()
			c.logger.Info("Task consumer goroutine stopping...")
			close(c.done)
		}()

		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Info("Task consumer channel closed, exiting goroutine.")
					return
				}
				c.wg.Add(1)
				go func(d amqp091.Delivery) {
					defer c.wg.Done()
					c.handleDelivery(ctx, d)
				}(msg)
			case <-ctx.Done():
				c.logger.Info("Context cancelled, stopping task consumer goroutine.")
				return
			}
		}
	}()

	return nil
}

func (c *TaskConsumer) handleDelivery(ctx context.Context, d amqp091.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic while handling story task", zap.Any("panic", r), zap.String("message_id", d.MessageId))
			_ = d.Nack(false, false)
		}
	}()

	var task messaging.StoryTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		c.logger.Error("Failed to unmarshal story task, sending to DLQ", zap.Error(err), zap.String("messageBody", string(d.Body)))
		_ = d.Nack(false, false)
		return
	}

	err := c.handler.Handle(ctx, task)
	log := c.logger.With(zap.String("task_id", task.TaskID), zap.String("story_id", task.StoryID))

	switch worker.DispositionFor(err, d.Redelivered) {
	case worker.Ack:
		if err != nil {
			log.Info("Story task dropped", zap.Error(err))
		}
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("Failed to ack story task", zap.Error(ackErr))
		}
	case worker.Requeue:
		log.Warn("Story task failed, requeueing once", zap.Error(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("Failed to requeue story task", zap.Error(nackErr))
		}
	case worker.Reject:
		log.Error("Story task rejected to DLQ", zap.Error(err), zap.Bool("redelivered", d.Redelivered))
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error("Failed to reject story task", zap.Error(nackErr))
		}
	}
}

// Stop отменяет подписку и ждет завершения выполняющихся задач не дольше timeout.
func (c *TaskConsumer) Stop(timeout time.Duration) error {
	c.logger.Info("Stopping task consumer...")
	if c.channel != nil {
		if err := c.channel.Cancel(c.tag, false); err != nil {
			c.logger.Error("Error cancelling task consumer", zap.Error(err))
		}
	}

	select {
	case <-c.done:
		c.logger.Info("Task consumer goroutine finished.")
	case <-time.After(timeout):
		c.logger.Warn("Timeout waiting for task consumer goroutine to stop.")
	}

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("Error closing task consumer channel during stop", zap.Error(err))
		}
	}
	c.logger.Info("Task consumer stopped.")
	return nil
}
