package messaging

import (
	"context"
	"errors"
	"testing"

	sharedMessaging "storybook-server/shared/messaging"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeAck struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (f *fakeAck) Ack(bool) error { f.acked = true; return nil }

func (f *fakeAck) Nack(_ bool, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

type handlerFunc func(ctx context.Context, event sharedMessaging.StoryReadyEvent) error

func (f handlerFunc) HandleStoryReady(ctx context.Context, event sharedMessaging.StoryReadyEvent) error {
	return f(ctx, event)
}

const readyBody = `{"storyId":"story-1","accountId":"acc-1","title":"The Brave Day"}`

func TestProcessor_Process(t *testing.T) {
	transient := errors.New("fcm unavailable")
	tests := []struct {
		name        string
		body        string
		redelivered bool
		handlerErr  error
		wantAck     bool
		wantRequeue bool
	}{
		{name: "success", body: readyBody, wantAck: true},
		{name: "malformed json", body: "{oops"},
		{name: "transient first delivery", body: readyBody, handlerErr: transient, wantRequeue: true},
		{name: "transient redelivered", body: readyBody, redelivered: true, handlerErr: transient},
		{name: "permanent", body: readyBody, handlerErr: ErrPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got sharedMessaging.StoryReadyEvent
			p := NewProcessor(zap.NewNop(), handlerFunc(func(_ context.Context, e sharedMessaging.StoryReadyEvent) error {
				got = e
				return tt.handlerErr
			}))
			ack := &fakeAck{}

			p.Process(context.Background(), []byte(tt.body), tt.redelivered, ack)

			assert.Equal(t, tt.wantAck, ack.acked)
			assert.Equal(t, !tt.wantAck, ack.nacked)
			assert.Equal(t, tt.wantRequeue, ack.requeued)
			if tt.body == readyBody {
				assert.Equal(t, "story-1", got.StoryID)
			}
		})
	}
}
