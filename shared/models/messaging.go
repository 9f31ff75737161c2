package models

// PushNotificationPayload - push-уведомление для всех устройств аккаунта.
type PushNotificationPayload struct {
	AccountID    string            `json:"account_id"`
	Notification PushNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

// PushNotification содержит видимые части push-сообщения.
type PushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"` // URL изображения (опционально)
}
