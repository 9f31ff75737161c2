package messaging

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// DeclareStoryTaskTopology объявляет очередь задач генерации вместе с DLX/DLQ.
// Сообщения, отклоненные воркером без requeue, уходят в story_tasks_dlq.
func DeclareStoryTaskTopology(ch *amqp091.Channel) error {
	if err := ch.ExchangeDeclare(
		StoryTasksDLXName,
		"fanout",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare DLX '%s': %w", StoryTasksDLXName, err)
	}

	if _, err := ch.QueueDeclare(StoryTasksDLQName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ '%s': %w", StoryTasksDLQName, err)
	}
	if err := ch.QueueBind(StoryTasksDLQName, "", StoryTasksDLXName, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ '%s' to '%s': %w", StoryTasksDLQName, StoryTasksDLXName, err)
	}

	args := amqp091.Table{"x-dead-letter-exchange": StoryTasksDLXName}
	if _, err := ch.QueueDeclare(StoryTasksQueueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", StoryTasksQueueName, err)
	}
	return nil
}

// DeclareFanoutExchange объявляет durable fanout exchange.
func DeclareFanoutExchange(ch *amqp091.Channel, name string) error {
	if err := ch.ExchangeDeclare(name, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange '%s': %w", name, err)
	}
	return nil
}

// DeclareStoryReadyQueue объявляет durable очередь notification-service и привязывает ее к story_ready_exchange.
func DeclareStoryReadyQueue(ch *amqp091.Channel) error {
	if err := DeclareFanoutExchange(ch, StoryReadyExchangeName); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(StoryReadyNotificationQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", StoryReadyNotificationQueue, err)
	}
	if err := ch.QueueBind(StoryReadyNotificationQueue, "", StoryReadyExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue '%s': %w", StoryReadyNotificationQueue, err)
	}
	return nil
}
