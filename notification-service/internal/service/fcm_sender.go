package service

import (
	"context"
	"fmt"

	"storybook-server/shared/models"

	firebase "firebase.google.com/go/v4"
	fcm "firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
)

// fcmBatchSize - лимит токенов в одном SendEachForMulticast.
const fcmBatchSize = 500

// MulticastClient - часть клиента FCM, которой пользуется fcmSender.
type MulticastClient interface {
	SendEachForMulticast(ctx context.Context, message *fcm.MulticastMessage) (*fcm.BatchResponse, error)
}

type fcmSender struct {
	client MulticastClient
	logger *zap.Logger
}

// NewFCMSender создает отправитель FCM поверх общего firebase.App.
func NewFCMSender(ctx context.Context, app *firebase.App, logger *zap.Logger) (PlatformSender, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения FCM Messaging client: %w", err)
	}
	logger.Info("FCM Sender успешно инициализирован")
	return NewFCMSenderWithClient(client, logger), nil
}

func NewFCMSenderWithClient(client MulticastClient, logger *zap.Logger) PlatformSender {
	return &fcmSender{client: client, logger: logger.Named("fcm_sender")}
}

func (s *fcmSender) Send(ctx context.Context, tokens []string, notification models.PushNotification, data map[string]string) error {
	var failed, total int
	for start := 0; start < len(tokens); start += fcmBatchSize {
		end := start + fcmBatchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]
		total += len(batch)

		message := &fcm.MulticastMessage{
			Tokens: batch,
			Notification: &fcm.Notification{
				Title:    notification.Title,
				Body:     notification.Body,
				ImageURL: notification.Image,
			},
			Data: data,
			Android: &fcm.AndroidConfig{
				Priority: "high",
			},
		}

		br, err := s.client.SendEachForMulticast(ctx, message)
		if err != nil {
			s.logger.Error("Ошибка вызова SendEachForMulticast FCM", zap.Error(err))
			return fmt.Errorf("ошибка отправки FCM: %w", err)
		}
		s.logger.Info("Результат отправки FCM",
			zap.Int("success_count", br.SuccessCount),
			zap.Int("failure_count", br.FailureCount),
		)
		failed += s.countDeliveryFailures(batch, br)
	}

	if failed > 0 {
		return fmt.Errorf("ошибка доставки %d из %d FCM сообщений", failed, total)
	}
	return nil
}

// countDeliveryFailures логирует неудачные токены. Устаревшие токены не считаются ошибкой:
// повтор им не поможет, а сообщение иначе уйдет на повторную доставку.
func (s *fcmSender) countDeliveryFailures(tokens []string, br *fcm.BatchResponse) int {
	failed := 0
	var invalidTokens []string
	for idx, resp := range br.Responses {
		if resp.Success {
			continue
		}
		token := "unknown"
		if idx < len(tokens) {
			token = tokens[idx]
		}
		if fcm.IsInvalidArgument(resp.Error) || fcm.IsUnregistered(resp.Error) || fcm.IsSenderIDMismatch(resp.Error) {
			invalidTokens = append(invalidTokens, token)
			continue
		}
		failed++
		s.logger.Error("Ошибка доставки FCM для токена", zap.String("token", tokenPrefix(token)), zap.Error(resp.Error))
	}
	if len(invalidTokens) > 0 {
		s.logger.Warn("Невалидные FCM токены", zap.Int("count", len(invalidTokens)))
	}
	return failed
}

func (s *fcmSender) Platform() string {
	return "android"
}

// tokenPrefix возвращает начало токена для логирования.
func tokenPrefix(token string) string {
	const n = 10
	if len(token) <= n {
		return token
	}
	return token[:n] + "..."
}
