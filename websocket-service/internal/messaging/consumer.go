package messaging

import (
	"encoding/json"
	"fmt"
	"sync"

	"storybook-server/shared/constants"
	sharedMessaging "storybook-server/shared/messaging"
	"storybook-server/shared/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// UserSender - получатель сообщений для подключенных пользователей.
type UserSender interface {
	SendToUser(userID string, message []byte) int
}

// ClientMessage - конверт, который получает клиент по WebSocket.
type ClientMessage struct {
	Type    string                             `json:"type"`
	Payload sharedMessaging.StoryProgressEvent `json:"payload"`
}

// EventType определяет тип клиентского события по контрольной точке.
func EventType(event sharedMessaging.StoryProgressEvent) string {
	switch {
	case event.Status.Stage == models.StageCompleted:
		return constants.WSEventStoryReady
	case event.PageNum != nil && event.ImageURL != "":
		return constants.WSEventPageImage
	default:
		return constants.WSEventStoryProgress
	}
}

// Acknowledger - часть amqp.Delivery, нужная для подтверждения.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Consumer получает события прогресса из fanout exchange.
// Каждый экземпляр сервиса держит свою эксклюзивную очередь: клиент может быть подключен к любому из них.
type Consumer struct {
	conn    *amqp.Connection
	sender  UserSender
	logger  zerolog.Logger
	channel *amqp.Channel
	tag     string
	done    chan struct{}
	once    sync.Once
}

// NewConsumer создает нового консьюмера RabbitMQ.
func NewConsumer(conn *amqp.Connection, sender UserSender, logger zerolog.Logger) *Consumer {
	return &Consumer{
		conn:   conn,
		sender: sender,
		logger: logger.With().Str("component", "ProgressConsumer").Logger(),
		tag:    "websocket-service",
		done:   make(chan struct{}),
	}
}

// Start объявляет очередь и запускает обработку в отдельной горутине.
func (c *Consumer) Start() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	if err := sharedMessaging.DeclareFanoutExchange(ch, sharedMessaging.StoryProgressExchangeName); err != nil {
		_ = ch.Close()
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("не удалось объявить очередь прогресса: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", sharedMessaging.StoryProgressExchangeName, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("не удалось привязать очередь '%s': %w", q.Name, err)
	}
	if err := ch.Qos(32, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}
	msgs, err := ch.Consume(q.Name, c.tag, false, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("не удалось зарегистрировать консьюмера: %w", err)
	}
	c.channel = ch

	c.logger.Info().Str("queue", q.Name).Str("exchange", sharedMessaging.StoryProgressExchangeName).Msg("Progress consumer started")
	go func() {
		defer close(c.done)
		for d := range msgs {
			c.Process(d.Body, d)
		}
		c.logger.Info().Msg("Progress delivery channel closed")
	}()
	return nil
}

// Process маршрутизирует одно событие прогресса владельцу истории.
// Оффлайн-пользователь не ошибка: прогресс эфемерен, клиент прочитает статус при переподключении.
func (c *Consumer) Process(body []byte, ack Acknowledger) {
	var event sharedMessaging.StoryProgressEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error().Err(err).Msg("Failed to decode progress event")
		_ = ack.Nack(false, false)
		return
	}
	if event.UserID == "" || event.StoryID == "" {
		c.logger.Warn().Str("storyID", event.StoryID).Msg("Progress event without owner or story")
		_ = ack.Nack(false, false)
		return
	}

	msgType := EventType(event)
	payload, err := json.Marshal(ClientMessage{Type: msgType, Payload: event})
	if err != nil {
		c.logger.Error().Err(err).Str("storyID", event.StoryID).Msg("Failed to encode client message")
		_ = ack.Nack(false, false)
		return
	}

	delivered := c.sender.SendToUser(event.UserID, payload)
	c.logger.Debug().
		Str("storyID", event.StoryID).
		Str("userID", event.UserID).
		Str("type", msgType).
		Str("label", event.Label).
		Int("connections", delivered).
		Msg("Progress event routed")
	_ = ack.Ack(false)
}

// Stop отменяет подписку и дожидается обработки уже полученных сообщений.
func (c *Consumer) Stop() {
	c.once.Do(func() {
		if c.channel == nil {
			close(c.done)
			return
		}
		if err := c.channel.Cancel(c.tag, false); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cancel consumer")
		}
		<-c.done
		_ = c.channel.Close()
	})
}
