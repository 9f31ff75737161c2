package mocks

import (
	"context"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/messaging"

	"github.com/stretchr/testify/mock"
)

// MockNotificationGateway is a mock type for the NotificationGateway type
type MockNotificationGateway struct {
	mock.Mock
}

// NotifyStoryReady provides a mock function with given fields: ctx, n
func (_m *MockNotificationGateway) NotifyStoryReady(ctx context.Context, n interfaces.StoryReadyNotification) error {
	ret := _m.Called(ctx, n)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, interfaces.StoryReadyNotification) error); ok {
		r0 = rf(ctx, n)
	} else {
		r0 = ret.Error(0)
	}
	return r0
}

// NewMockNotificationGateway creates a new instance of MockNotificationGateway.
func NewMockNotificationGateway(t interface {
	mock.TestingT
	Helper()
}) *MockNotificationGateway {
	m := &MockNotificationGateway{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ interfaces.NotificationGateway = (*MockNotificationGateway)(nil)

// MockProgressPublisher is a mock type for the ProgressPublisher type
type MockProgressPublisher struct {
	mock.Mock
}

// PublishProgress provides a mock function with given fields: ctx, event
func (_m *MockProgressPublisher) PublishProgress(ctx context.Context, event messaging.StoryProgressEvent) error {
	ret := _m.Called(ctx, event)
	return ret.Error(0)
}

// NewMockProgressPublisher creates a new instance of MockProgressPublisher.
func NewMockProgressPublisher(t interface {
	mock.TestingT
	Helper()
}) *MockProgressPublisher {
	m := &MockProgressPublisher{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ interfaces.ProgressPublisher = (*MockProgressPublisher)(nil)

// MockTaskPublisher is a mock type for the TaskPublisher type
type MockTaskPublisher struct {
	mock.Mock
}

// PublishStoryTask provides a mock function with given fields: ctx, task
func (_m *MockTaskPublisher) PublishStoryTask(ctx context.Context, task messaging.StoryTask) error {
	ret := _m.Called(ctx, task)
	return ret.Error(0)
}

// NewMockTaskPublisher creates a new instance of MockTaskPublisher.
func NewMockTaskPublisher(t interface {
	mock.TestingT
	Helper()
}) *MockTaskPublisher {
	m := &MockTaskPublisher{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ interfaces.TaskPublisher = (*MockTaskPublisher)(nil)
