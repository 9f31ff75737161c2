package notifications

import (
	"fmt"

	"storybook-server/shared/constants"
	"storybook-server/shared/messaging"
	sharedModels "storybook-server/shared/models"
)

// BuildStoryReadyPushPayload собирает push-уведомление "история готова" для всех устройств аккаунта.
func BuildStoryReadyPushPayload(event messaging.StoryReadyEvent) (*sharedModels.PushNotificationPayload, error) {
	if event.StoryID == "" {
		return nil, fmt.Errorf("cannot build story ready push payload without story ID")
	}
	if event.AccountID == "" {
		return nil, fmt.Errorf("cannot build story ready push payload without account ID")
	}

	storyTitle := event.Title
	if storyTitle == "" {
		storyTitle = "Your story"
	}

	fallbackTitle := "Your storybook is ready!"
	fallbackBody := fmt.Sprintf("\"%s\" is fully illustrated and waiting to be read.", storyTitle)
	if event.KidName != "" {
		fallbackBody = fmt.Sprintf("%s's story \"%s\" is fully illustrated and waiting to be read.", event.KidName, storyTitle)
	}

	data := map[string]string{
		"story_id":                     event.StoryID,
		"event_type":                   constants.PushEventTypeStoryReady,
		constants.PushLocKey:           constants.PushLocKeyStoryReady,
		constants.PushLocArgStoryTitle: storyTitle,
		constants.PushLocArgKidName:    event.KidName,
		constants.PushFallbackTitleKey: fallbackTitle,
		constants.PushFallbackBodyKey:  fallbackBody,
	}
	if event.Link != "" {
		data["link"] = event.Link
	}

	return &sharedModels.PushNotificationPayload{
		AccountID: event.AccountID,
		Notification: sharedModels.PushNotification{
			Title: fallbackTitle,
			Body:  fallbackBody,
		},
		Data: data,
	}, nil
}
