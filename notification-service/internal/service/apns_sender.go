package service

import (
	"context"
	"fmt"
	"sync"

	"storybook-server/notification-service/internal/config"
	"storybook-server/shared/models"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"
)

// apnsParallelism ограничивает число одновременных запросов к APNS.
const apnsParallelism = 8

// PushClient - часть apns2.Client, которой пользуется apnsSender.
type PushClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type apnsSender struct {
	client PushClient
	logger *zap.Logger
	topic  string
}

// NewApnsSender создает отправитель APNS. Возвращает nil, nil, если конфигурация неполная.
func NewApnsSender(cfg config.APNSConfig, logger *zap.Logger) (PlatformSender, error) {
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" || cfg.Topic == "" {
		logger.Warn("APNS конфигурация не полная (KeyPath, KeyID, TeamID, Topic), APNS sender не будет создан.")
		return nil, nil
	}

	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ключа APNS из файла %s: %w", cfg.KeyPath, err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	logger.Info("APNS Sender успешно инициализирован",
		zap.String("key_id", cfg.KeyID),
		zap.String("team_id", cfg.TeamID),
		zap.String("topic", cfg.Topic),
		zap.Bool("production", cfg.Production),
	)
	return NewApnsSenderWithClient(client, cfg.Topic, logger), nil
}

func NewApnsSenderWithClient(client PushClient, topic string, logger *zap.Logger) PlatformSender {
	return &apnsSender{client: client, topic: topic, logger: logger.Named("apns_sender")}
}

func (s *apnsSender) Send(ctx context.Context, tokens []string, notification models.PushNotification, data map[string]string) error {
	payloadData := payload.NewPayload().
		AlertTitle(notification.Title).
		AlertBody(notification.Body).
		Sound("default").
		MutableContent()
	for k, v := range data {
		payloadData.Custom(k, v)
	}

	var (
		wg            sync.WaitGroup
		mu            sync.Mutex
		invalidTokens int
		failureCount  int
		firstError    error
	)
	sem := make(chan struct{}, apnsParallelism)
	for _, deviceToken := range tokens {
		wg.Add(1)
		sem <- struct{}{}
		go func(tokenToSend string) {
			defer func() {
				<-sem
				wg.Done()
			}()

			res, err := s.client.PushWithContext(ctx, &apns2.Notification{
				DeviceToken: tokenToSend,
				Topic:       s.topic,
				Payload:     payloadData,
				Priority:    apns2.PriorityHigh,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				s.logger.Error("Ошибка вызова APNS PushWithContext", zap.String("token", tokenPrefix(tokenToSend)), zap.Error(err))
				failureCount++
				if firstError == nil {
					firstError = fmt.Errorf("apns send error: %w", err)
				}
			case res.Reason == apns2.ReasonUnregistered || res.Reason == apns2.ReasonBadDeviceToken:
				invalidTokens++
			case !res.Sent():
				s.logger.Warn("APNS уведомление не отправлено",
					zap.String("token", tokenPrefix(tokenToSend)),
					zap.Int("status_code", res.StatusCode),
					zap.String("reason", res.Reason),
				)
				failureCount++
				if firstError == nil {
					firstError = fmt.Errorf("apns delivery failed: %s", res.Reason)
				}
			}
		}(deviceToken)
	}
	wg.Wait()

	if invalidTokens > 0 {
		s.logger.Warn("Невалидные APNS токены", zap.Int("count", invalidTokens))
	}
	if failureCount > 0 {
		s.logger.Error("Завершено с ошибками APNS", zap.Int("failures", failureCount), zap.Int("total", len(tokens)))
		return firstError
	}
	return nil
}

func (s *apnsSender) Platform() string {
	return "ios"
}
