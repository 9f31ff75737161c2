package constants

// Основной ключ для локализации в data payload
const PushLocKey = "loc_key"

// Типы событий в data payload push-уведомлений
const (
	PushEventTypeStoryReady = "story_ready" // все страницы истории проиллюстрированы
)

// Ключи локализации (поле loc_key)
const (
	PushLocKeyStoryReady = "notification_story_ready"
)

// Имена аргументов локализации
const (
	PushLocArgStoryTitle = "storyTitle"
	PushLocArgKidName    = "kidName"
)

// Ключи для fallback текста, если локализация на клиенте не сработает
const (
	PushFallbackTitleKey = "fallback_title"
	PushFallbackBodyKey  = "fallback_body"
)
