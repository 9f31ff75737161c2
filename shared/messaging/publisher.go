package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQPublisher публикует задачи генерации и события истории.
// Канал AMQP не потокобезопасен, поэтому публикации сериализуются мьютексом.
type RabbitMQPublisher struct {
	conn   *amqp091.Connection
	ch     *amqp091.Channel
	mu     sync.Mutex
	logger *zap.Logger
}

// NewRabbitMQPublisher открывает канал и объявляет всю топологию, в которую он пишет.
// Предполагается, что соединение conn уже установлено и переподключением управляет внешний код.
func NewRabbitMQPublisher(conn *amqp091.Connection, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := DeclareStoryTaskTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := DeclareStoryReadyQueue(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := DeclareFanoutExchange(ch, StoryProgressExchangeName); err != nil {
		_ = ch.Close()
		return nil, err
	}

	logger.Info("RabbitMQ publisher topology declared",
		zap.String("tasks_queue", StoryTasksQueueName),
		zap.String("ready_exchange", StoryReadyExchangeName),
		zap.String("progress_exchange", StoryProgressExchangeName),
	)
	return &RabbitMQPublisher{conn: conn, ch: ch, logger: logger.Named("RabbitMQPublisher")}, nil
}

// PublishStoryTask кладет задачу в durable очередь story_tasks.
func (p *RabbitMQPublisher) PublishStoryTask(ctx context.Context, task StoryTask) error {
	return p.publish(ctx, "", StoryTasksQueueName, task, amqp091.Persistent, task.TaskID)
}

// PublishStoryReady публикует событие "история готова" для notification-service.
func (p *RabbitMQPublisher) PublishStoryReady(ctx context.Context, event StoryReadyEvent) error {
	return p.publish(ctx, StoryReadyExchangeName, "", event, amqp091.Persistent, event.StoryID)
}

// PublishProgress публикует контрольную точку прогресса. Сообщения не персистентны:
// потерянный прогресс клиент получит при следующем опросе GetStory.
func (p *RabbitMQPublisher) PublishProgress(ctx context.Context, event StoryProgressEvent) error {
	return p.publish(ctx, StoryProgressExchangeName, "", event, amqp091.Transient, "")
}

func (p *RabbitMQPublisher) publish(ctx context.Context, exchange, key string, payload interface{}, mode uint8, correlationID string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message for exchange '%s': %w", exchange, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  mode,
			Body:          body,
			Timestamp:     time.Now(),
			MessageId:     uuid.NewString(),
			CorrelationId: correlationID,
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish message",
			zap.String("exchange", exchange),
			zap.String("routing_key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish to exchange '%s' key '%s': %w", exchange, key, err)
	}

	p.logger.Debug("Message published", zap.String("exchange", exchange), zap.String("routing_key", key), zap.String("correlation_id", correlationID))
	return nil
}

// Close закрывает канал RabbitMQ.
func (p *RabbitMQPublisher) Close() error {
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}
