package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sharedMessaging "storybook-server/shared/messaging"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrPermanent помечает ошибку, после которой повтор бессмысленен.
var ErrPermanent = errors.New("permanent notification failure")

// StoryReadyHandler доставляет уведомление "история готова".
type StoryReadyHandler interface {
	HandleStoryReady(ctx context.Context, event sharedMessaging.StoryReadyEvent) error
}

type Consumer struct {
	conn        *amqp.Connection
	logger      *zap.Logger
	queueName   string
	concurrency int
	processor   *Processor
	stopChannel chan struct{}
	cancelFunc  context.CancelFunc
	wg          sync.WaitGroup
}

func NewConsumer(conn *amqp.Connection, logger *zap.Logger, concurrency int, processor *Processor) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{
		conn:        conn,
		logger:      logger.Named("consumer"),
		queueName:   sharedMessaging.StoryReadyNotificationQueue,
		concurrency: concurrency,
		processor:   processor,
		stopChannel: make(chan struct{}),
	}
}

// Start блокируется до вызова Stop.
func (c *Consumer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelFunc = cancel

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	defer ch.Close()

	if err := sharedMessaging.DeclareStoryReadyQueue(ch); err != nil {
		return err
	}
	c.logger.Info("Очередь успешно объявлена/найдена", zap.String("queue", c.queueName))

	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,
		"notification-consumer", // consumer tag
		false,                   // auto-ack = false
		false,                   // exclusive
		false,                   // no-local
		false,                   // no-wait
		nil,                     // args
	)
	if err != nil {
		return fmt.Errorf("не удалось зарегистрировать консьюмера: %w", err)
	}

	c.logger.Info("Консьюмер запущен, ожидание сообщений...", zap.Int("concurrency", c.concurrency))

	c.wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer c.wg.Done()
			logger := c.logger.With(zap.Int("worker_id", workerID))
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						logger.Info("Канал сообщений закрыт, воркер завершает работу")
						return
					}
					c.processor.ProcessMessage(ctx, d)
				}
			}
		}(i)
	}

	<-c.stopChannel
	c.logger.Info("Получен сигнал остановки, отменяем контекст воркеров...")
	if err := ch.Cancel("notification-consumer", false); err != nil {
		c.logger.Warn("Ошибка отмены подписки", zap.Error(err))
	}
	c.cancelFunc()

	c.wg.Wait()
	c.logger.Info("Все воркеры консьюмера остановлены")
	return nil
}

func (c *Consumer) Stop() {
	c.logger.Info("Инициирована остановка консьюмера...")
	close(c.stopChannel)
}

// Acknowledger - часть amqp.Delivery, через которую Processor подтверждает сообщение.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Processor обрабатывает входящие сообщения.
type Processor struct {
	logger  *zap.Logger
	handler StoryReadyHandler
	timeout time.Duration
}

func NewProcessor(logger *zap.Logger, handler StoryReadyHandler) *Processor {
	return &Processor{
		logger:  logger.Named("processor"),
		handler: handler,
		timeout: 30 * time.Second,
	}
}

func (p *Processor) ProcessMessage(ctx context.Context, d amqp.Delivery) {
	p.Process(ctx, d.Body, d.Redelivered, &d)
}

// Process декодирует событие и вызывает обработчик.
// Временная ошибка повторяется один раз, постоянная и повторная отбрасываются.
func (p *Processor) Process(ctx context.Context, body []byte, redelivered bool, ack Acknowledger) {
	var event sharedMessaging.StoryReadyEvent
	if err := json.Unmarshal(body, &event); err != nil {
		p.logger.Error("Ошибка десериализации JSON", zap.Error(err), zap.ByteString("body", body))
		if nackErr := ack.Nack(false, false); nackErr != nil {
			p.logger.Error("Ошибка Nack сообщения после ошибки JSON", zap.Error(nackErr))
		}
		return
	}
	log := p.logger.With(zap.String("story_id", event.StoryID), zap.String("account_id", event.AccountID))

	processCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.handler.HandleStoryReady(processCtx, event); err != nil {
		requeue := !redelivered && !errors.Is(err, ErrPermanent)
		log.Error("Ошибка обработки уведомления", zap.Error(err), zap.Bool("requeue", requeue))
		if nackErr := ack.Nack(false, requeue); nackErr != nil {
			log.Error("Ошибка Nack сообщения после ошибки обработки", zap.Error(nackErr))
		}
		return
	}

	if ackErr := ack.Ack(false); ackErr != nil {
		log.Error("Ошибка Ack сообщения после успешной обработки", zap.Error(ackErr))
	}
	log.Info("Уведомление о готовности истории обработано")
}
