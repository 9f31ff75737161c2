package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"storybook-server/notification-service/internal/messaging"
	"storybook-server/shared/interfaces"
	sharedMessaging "storybook-server/shared/messaging"
	"storybook-server/shared/models"

	fcm "firebase.google.com/go/v4/messaging"
	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAccounts struct {
	accounts map[string]*models.Account
	err      error
}

func (f *fakeAccounts) GetAccount(_ context.Context, id string) (*models.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	acc, ok := f.accounts[id]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return acc, nil
}

type recordingSender struct {
	platform string
	err      error

	mu     sync.Mutex
	tokens []string
	data   map[string]string
}

func (r *recordingSender) Send(_ context.Context, tokens []string, _ models.PushNotification, data map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, tokens...)
	r.data = data
	return r.err
}

func (r *recordingSender) Platform() string { return r.platform }

type recordingEmail struct {
	notes []interfaces.StoryReadyNotification
	err   error
}

func (r *recordingEmail) NotifyStoryReady(_ context.Context, n interfaces.StoryReadyNotification) error {
	r.notes = append(r.notes, n)
	return r.err
}

func readyEvent() sharedMessaging.StoryReadyEvent {
	return sharedMessaging.StoryReadyEvent{StoryID: "story-1", AccountID: "acc-1", UserID: "user-1", KidName: "John", Title: "The Brave Day"}
}

func newAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: map[string]*models.Account{
		"acc-1": {ID: "acc-1", Email: "parent@example.com", Devices: []models.DeviceToken{
			{Token: "android-1", Platform: "android"},
			{Token: "ios-1", Platform: "ios"},
			{Token: "android-1", Platform: "android"},
			{Token: "web-1", Platform: "web"},
		}},
	}}
}

func TestHandleStoryReady_EmailAndPush(t *testing.T) {
	android := &recordingSender{platform: "android"}
	ios := &recordingSender{platform: "ios"}
	email := &recordingEmail{}
	svc := NewNotificationService(NewAccountTokenProvider(newAccounts(), zap.NewNop()), email, zap.NewNop(), android, ios)

	require.NoError(t, svc.HandleStoryReady(context.Background(), readyEvent()))

	assert.Equal(t, []string{"android-1"}, android.tokens, "duplicate tokens are sent once")
	assert.Equal(t, []string{"ios-1"}, ios.tokens)
	assert.Equal(t, "story-1", android.data["story_id"])
	require.Len(t, email.notes, 1)
	assert.Equal(t, "John", email.notes[0].KidName)
}

func TestHandleStoryReady_NoDevices(t *testing.T) {
	accounts := &fakeAccounts{accounts: map[string]*models.Account{"acc-1": {ID: "acc-1"}}}
	android := &recordingSender{platform: "android"}
	svc := NewNotificationService(NewAccountTokenProvider(accounts, zap.NewNop()), nil, zap.NewNop(), android)

	require.NoError(t, svc.HandleStoryReady(context.Background(), readyEvent()))
	assert.Empty(t, android.tokens)
}

func TestHandleStoryReady_InvalidEventIsPermanent(t *testing.T) {
	svc := NewNotificationService(NewAccountTokenProvider(newAccounts(), zap.NewNop()), nil, zap.NewNop())

	event := readyEvent()
	event.AccountID = ""
	err := svc.HandleStoryReady(context.Background(), event)
	assert.ErrorIs(t, err, messaging.ErrPermanent)
}

func TestHandleStoryReady_SenderErrorReturned(t *testing.T) {
	sendErr := errors.New("fcm unavailable")
	android := &recordingSender{platform: "android", err: sendErr}
	svc := NewNotificationService(NewAccountTokenProvider(newAccounts(), zap.NewNop()), nil, zap.NewNop(), android)

	err := svc.HandleStoryReady(context.Background(), readyEvent())
	assert.ErrorIs(t, err, sendErr)
	assert.NotErrorIs(t, err, messaging.ErrPermanent)
}

func TestHandleStoryReady_EmailAccountMissingIsPermanent(t *testing.T) {
	email := &recordingEmail{err: models.ErrAccountNotFound}
	accounts := &fakeAccounts{accounts: map[string]*models.Account{}}
	svc := NewNotificationService(NewAccountTokenProvider(accounts, zap.NewNop()), email, zap.NewNop())

	err := svc.HandleStoryReady(context.Background(), readyEvent())
	assert.ErrorIs(t, err, messaging.ErrPermanent)
}

func TestAccountTokenProvider_LookupError(t *testing.T) {
	provider := NewAccountTokenProvider(&fakeAccounts{err: errors.New("firestore down")}, zap.NewNop())
	_, err := provider.GetAccountDeviceTokens(context.Background(), "acc-1")
	assert.Error(t, err)
}

type fakeMulticast struct {
	batches [][]string
	fail    map[string]error
}

func (f *fakeMulticast) SendEachForMulticast(_ context.Context, m *fcm.MulticastMessage) (*fcm.BatchResponse, error) {
	f.batches = append(f.batches, m.Tokens)
	br := &fcm.BatchResponse{}
	for _, tok := range m.Tokens {
		if err, ok := f.fail[tok]; ok {
			br.FailureCount++
			br.Responses = append(br.Responses, &fcm.SendResponse{Success: false, Error: err})
			continue
		}
		br.SuccessCount++
		br.Responses = append(br.Responses, &fcm.SendResponse{Success: true})
	}
	return br, nil
}

func TestFCMSender_Batches(t *testing.T) {
	client := &fakeMulticast{}
	sender := NewFCMSenderWithClient(client, zap.NewNop())

	tokens := make([]string, fcmBatchSize+3)
	for i := range tokens {
		tokens[i] = "tok"
	}
	require.NoError(t, sender.Send(context.Background(), tokens, models.PushNotification{Title: "t"}, nil))
	require.Len(t, client.batches, 2)
	assert.Len(t, client.batches[0], fcmBatchSize)
	assert.Len(t, client.batches[1], 3)
}

func TestFCMSender_DeliveryFailure(t *testing.T) {
	client := &fakeMulticast{fail: map[string]error{"bad": errors.New("internal")}}
	sender := NewFCMSenderWithClient(client, zap.NewNop())

	err := sender.Send(context.Background(), []string{"ok", "bad"}, models.PushNotification{Title: "t"}, nil)
	assert.Error(t, err)
}

type fakePushClient struct {
	mu      sync.Mutex
	reasons map[string]string
	sent    []string
}

func (f *fakePushClient) PushWithContext(_ apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n.DeviceToken)
	if reason, ok := f.reasons[n.DeviceToken]; ok {
		return &apns2.Response{StatusCode: 400, Reason: reason}, nil
	}
	return &apns2.Response{StatusCode: apns2.StatusSent}, nil
}

func TestApnsSender_UnregisteredTokenIsNotFailure(t *testing.T) {
	client := &fakePushClient{reasons: map[string]string{"gone": apns2.ReasonUnregistered}}
	sender := NewApnsSenderWithClient(client, "com.example.storybook", zap.NewNop())

	require.NoError(t, sender.Send(context.Background(), []string{"a", "gone"}, models.PushNotification{Title: "t"}, map[string]string{"story_id": "s"}))
	assert.Len(t, client.sent, 2)
}

func TestApnsSender_RejectedPush(t *testing.T) {
	client := &fakePushClient{reasons: map[string]string{"a": apns2.ReasonPayloadTooLarge}}
	sender := NewApnsSenderWithClient(client, "com.example.storybook", zap.NewNop())

	err := sender.Send(context.Background(), []string{"a"}, models.PushNotification{Title: "t"}, nil)
	assert.Error(t, err)
}
