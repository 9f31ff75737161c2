package messaging

import (
	"time"

	"storybook-server/shared/models"
)

// StoryTask - задача для воркера генерации истории.
type StoryTask struct {
	TaskID    string    `json:"taskId"` // ksuid
	Type      TaskType  `json:"type"`
	StoryID   string    `json:"storyId"`
	UserID    string    `json:"userId"`
	KidID     string    `json:"kidId,omitempty"`
	AccountID string    `json:"accountId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// StoryReadyEvent публикуется один раз, когда у всех страниц истории есть изображения.
type StoryReadyEvent struct {
	StoryID   string    `json:"storyId"`
	AccountID string    `json:"accountId"`
	UserID    string    `json:"userId"`
	KidName   string    `json:"kidName,omitempty"`
	Title     string    `json:"title"`
	Link      string    `json:"link,omitempty"`
	ReadyAt   time.Time `json:"readyAt"`
}

// StoryProgressEvent - контрольная точка прогресса для клиента, подключенного по WebSocket.
type StoryProgressEvent struct {
	StoryID   string             `json:"storyId"`
	UserID    string             `json:"userId"`
	Status    models.StoryStatus `json:"status"`
	Label     string             `json:"label"` // progress_NN
	PageNum   *int               `json:"pageNum,omitempty"`
	ImageURL  string             `json:"imageUrl,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}
