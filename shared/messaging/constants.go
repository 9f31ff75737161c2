package messaging

// Exchange Names
const (
	StoryReadyExchangeName    = "story_ready_exchange"    // fanout, события "история готова"
	StoryProgressExchangeName = "story_progress_exchange" // fanout, прогресс генерации для websocket-service
	StoryTasksDLXName         = "story_tasks_dlx"         // dead letter exchange для задач генерации
)

// Queue Names
const (
	StoryTasksQueueName         = "story_tasks"
	StoryTasksDLQName           = "story_tasks_dlq"
	StoryReadyNotificationQueue = "story_ready_notifications"
)

// TaskType - тип задачи в очереди генерации.
type TaskType string

const (
	TaskTypeResumeStory   TaskType = "resume_story"   // шаги 3-10 полного прогона
	TaskTypeMissingImages TaskType = "missing_images" // догенерация изображений страниц без картинки
)
