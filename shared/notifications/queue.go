package notifications

import (
	"context"
	"time"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/messaging"

	"go.uber.org/zap"
)

var _ interfaces.NotificationGateway = (*QueueNotifier)(nil)

// StoryReadyPublisher публикует событие "история готова".
type StoryReadyPublisher interface {
	PublishStoryReady(ctx context.Context, event messaging.StoryReadyEvent) error
}

// QueueNotifier передает уведомление в notification-service через RabbitMQ.
type QueueNotifier struct {
	publisher StoryReadyPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewQueueNotifier(publisher StoryReadyPublisher, logger *zap.Logger) *QueueNotifier {
	return &QueueNotifier{publisher: publisher, logger: logger.Named("QueueNotifier"), now: time.Now}
}

func (n *QueueNotifier) NotifyStoryReady(ctx context.Context, note interfaces.StoryReadyNotification) error {
	event := messaging.StoryReadyEvent{
		StoryID:   note.StoryID,
		AccountID: note.AccountID,
		UserID:    note.UserID,
		KidName:   note.KidName,
		Title:     note.Title,
		Link:      note.Link,
		ReadyAt:   n.now().UTC(),
	}
	if err := n.publisher.PublishStoryReady(ctx, event); err != nil {
		return err
	}
	n.logger.Info("Story ready event published", zap.String("story_id", note.StoryID))
	return nil
}

// LogNotifier только пишет уведомление в лог.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("LogNotifier")}
}

func (n *LogNotifier) NotifyStoryReady(_ context.Context, note interfaces.StoryReadyNotification) error {
	n.logger.Info("Story ready",
		zap.String("story_id", note.StoryID),
		zap.String("account_id", note.AccountID),
		zap.String("title", note.Title),
		zap.String("link", note.Link),
	)
	return nil
}
