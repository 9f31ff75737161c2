package interfaces

import (
	"context"

	"storybook-server/shared/messaging"
)

// StoryReadyNotification - данные уведомления "история готова".
type StoryReadyNotification struct {
	StoryID   string
	AccountID string
	UserID    string
	KidName   string
	Title     string
	Link      string
}

// NotificationGateway отправляет уведомление о готовности истории.
type NotificationGateway interface {
	NotifyStoryReady(ctx context.Context, n StoryReadyNotification) error
}

// ProgressPublisher транслирует контрольные точки прогресса подключенным клиентам.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, event messaging.StoryProgressEvent) error
}

// TaskPublisher ставит задачи генерации в очередь воркера.
type TaskPublisher interface {
	PublishStoryTask(ctx context.Context, task messaging.StoryTask) error
}
