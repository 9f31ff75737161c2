package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"storybook-server/notification-service/internal/messaging"
	"storybook-server/shared/interfaces"
	sharedMessaging "storybook-server/shared/messaging"
	"storybook-server/shared/models"
	"storybook-server/shared/notifications"

	"go.uber.org/zap"
)

// PlatformSender отправляет push на конкретную платформу (FCM/APNS).
type PlatformSender interface {
	Send(ctx context.Context, tokens []string, notification models.PushNotification, data map[string]string) error
	Platform() string // "android" или "ios"
}

type notificationService struct {
	tokenProvider TokenProvider
	email         interfaces.NotificationGateway // nil, если SendGrid не настроен
	senders       map[string]PlatformSender
	logger        *zap.Logger
}

// NewNotificationService создает сервис, который на событие "история готова"
// отправляет письмо родителю и push на все его устройства.
func NewNotificationService(tp TokenProvider, email interfaces.NotificationGateway, logger *zap.Logger, senders ...PlatformSender) *notificationService {
	s := &notificationService{
		tokenProvider: tp,
		email:         email,
		senders:       make(map[string]PlatformSender, len(senders)),
		logger:        logger.Named("notification_service"),
	}
	for _, sender := range senders {
		if sender != nil {
			s.senders[sender.Platform()] = sender
		}
	}
	if email == nil {
		s.logger.Warn("Email sender не настроен, отправляется только push")
	}
	return s
}

var _ messaging.StoryReadyHandler = (*notificationService)(nil)

func (s *notificationService) HandleStoryReady(ctx context.Context, event sharedMessaging.StoryReadyEvent) error {
	log := s.logger.With(zap.String("story_id", event.StoryID), zap.String("account_id", event.AccountID))

	payload, err := notifications.BuildStoryReadyPushPayload(event)
	if err != nil {
		return fmt.Errorf("%w: %v", messaging.ErrPermanent, err)
	}

	var errs []error
	if s.email != nil {
		note := interfaces.StoryReadyNotification{
			StoryID:   event.StoryID,
			AccountID: event.AccountID,
			UserID:    event.UserID,
			KidName:   event.KidName,
			Title:     event.Title,
			Link:      event.Link,
		}
		if err := s.email.NotifyStoryReady(ctx, note); err != nil {
			if errors.Is(err, models.ErrAccountNotFound) {
				err = fmt.Errorf("%w: %v", messaging.ErrPermanent, err)
			}
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if err := s.sendPush(ctx, *payload, log); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		log.Error("Произошли ошибки во время отправки уведомлений", zap.Errors("errors", errs))
		return errors.Join(errs...)
	}
	log.Info("Отправка уведомлений завершена успешно")
	return nil
}

func (s *notificationService) sendPush(ctx context.Context, payload models.PushNotificationPayload, log *zap.Logger) error {
	deviceTokens, err := s.tokenProvider.GetAccountDeviceTokens(ctx, payload.AccountID)
	if err != nil {
		return fmt.Errorf("push tokens: %w", err)
	}
	if len(deviceTokens) == 0 {
		log.Info("Не найдено токенов устройств для аккаунта")
		return nil
	}

	byPlatform := make(map[string][]string)
	for _, dt := range deviceTokens {
		if _, ok := s.senders[dt.Platform]; !ok {
			log.Warn("Нет отправителя для платформы токена", zap.String("platform", dt.Platform))
			continue
		}
		byPlatform[dt.Platform] = append(byPlatform[dt.Platform], dt.Token)
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		sendErrors []error
	)
	for platform, tokens := range byPlatform {
		wg.Add(1)
		go func(sender PlatformSender, tokens []string) {
			defer wg.Done()
			log.Info("Отправка push", zap.String("platform", sender.Platform()), zap.Int("count", len(tokens)))
			if err := sender.Send(ctx, tokens, payload.Notification, payload.Data); err != nil {
				mu.Lock()
				sendErrors = append(sendErrors, fmt.Errorf("%s: %w", sender.Platform(), err))
				mu.Unlock()
			}
		}(s.senders[platform], tokens)
	}
	wg.Wait()

	return errors.Join(sendErrors...)
}
