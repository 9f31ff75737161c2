package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"storybook-server/shared/constants"
	sharedMessaging "storybook-server/shared/messaging"
	"storybook-server/shared/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAck struct {
	acked, nacked bool
}

func (f *fakeAck) Ack(bool) error        { f.acked = true; return nil }
func (f *fakeAck) Nack(bool, bool) error { f.nacked = true; return nil }

type recordingSender struct {
	users    []string
	messages [][]byte
	online   int
}

func (r *recordingSender) SendToUser(userID string, message []byte) int {
	r.users = append(r.users, userID)
	r.messages = append(r.messages, message)
	return r.online
}

func progressBody(t *testing.T, e sharedMessaging.StoryProgressEvent) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func TestConsumer_ProcessRoutesToOwner(t *testing.T) {
	sender := &recordingSender{online: 1}
	c := NewConsumer(nil, sender, zerolog.Nop())
	ack := &fakeAck{}

	status := models.StoryStatus{Stage: models.StagePagesGenerated, Percent: 60}
	c.Process(progressBody(t, sharedMessaging.StoryProgressEvent{
		StoryID: "story-1", UserID: "user-1", Status: status, Label: status.Label(), Timestamp: time.Now(),
	}), ack)

	assert.True(t, ack.acked)
	require.Equal(t, []string{"user-1"}, sender.users)

	var msg ClientMessage
	require.NoError(t, json.Unmarshal(sender.messages[0], &msg))
	assert.Equal(t, constants.WSEventStoryProgress, msg.Type)
	assert.Equal(t, "progress_60", msg.Payload.Label)
}

func TestConsumer_OfflineUserIsAcked(t *testing.T) {
	c := NewConsumer(nil, &recordingSender{}, zerolog.Nop())
	ack := &fakeAck{}

	c.Process(progressBody(t, sharedMessaging.StoryProgressEvent{StoryID: "s", UserID: "u"}), ack)

	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
}

func TestConsumer_RejectsBadMessages(t *testing.T) {
	for name, body := range map[string][]byte{
		"malformed": []byte("{"),
		"no owner":  []byte(`{"storyId":"s"}`),
	} {
		t.Run(name, func(t *testing.T) {
			sender := &recordingSender{}
			ack := &fakeAck{}
			NewConsumer(nil, sender, zerolog.Nop()).Process(body, ack)
			assert.True(t, ack.nacked)
			assert.Empty(t, sender.users)
		})
	}
}

func TestEventType(t *testing.T) {
	page := 3
	assert.Equal(t, constants.WSEventStoryReady, EventType(sharedMessaging.StoryProgressEvent{
		Status: models.StoryStatus{Stage: models.StageCompleted, Percent: 100},
	}))
	assert.Equal(t, constants.WSEventPageImage, EventType(sharedMessaging.StoryProgressEvent{
		Status: models.StoryStatus{Stage: models.StageImagesInProgress, Percent: 80}, PageNum: &page, ImageURL: "https://img/3.png",
	}))
	assert.Equal(t, constants.WSEventStoryProgress, EventType(sharedMessaging.StoryProgressEvent{
		Status: models.StoryStatus{Stage: models.StageTitlesGenerated, Percent: 20},
	}))
}
