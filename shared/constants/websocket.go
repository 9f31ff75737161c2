package constants

// Типы событий, которые websocket-service отправляет клиенту.
const (
	WSEventStoryProgress = "story_progress"
	WSEventPageImage     = "page_image_ready"
	WSEventStoryReady    = "story_ready"
)
