package mocks

import (
	"context"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"

	"github.com/stretchr/testify/mock"
)

// MockStoryDocumentGateway is a mock type for the StoryDocumentGateway type
type MockStoryDocumentGateway struct {
	mock.Mock
}

// GetKid provides a mock function with given fields: ctx, kidID
func (_m *MockStoryDocumentGateway) GetKid(ctx context.Context, kidID string) (*models.Kid, error) {
	ret := _m.Called(ctx, kidID)

	var r0 *models.Kid
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Kid)
	}
	return r0, ret.Error(1)
}

// IncrementKidStories provides a mock function with given fields: ctx, kidID
func (_m *MockStoryDocumentGateway) IncrementKidStories(ctx context.Context, kidID string) error {
	ret := _m.Called(ctx, kidID)
	return ret.Error(0)
}

// UpdateKidAvatar provides a mock function with given fields: ctx, kidID, avatarURL
func (_m *MockStoryDocumentGateway) UpdateKidAvatar(ctx context.Context, kidID string, avatarURL string) error {
	ret := _m.Called(ctx, kidID, avatarURL)
	return ret.Error(0)
}

// GetAccount provides a mock function with given fields: ctx, accountID
func (_m *MockStoryDocumentGateway) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	ret := _m.Called(ctx, accountID)

	var r0 *models.Account
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Account)
	}
	return r0, ret.Error(1)
}

// CreateStory provides a mock function with given fields: ctx, story
func (_m *MockStoryDocumentGateway) CreateStory(ctx context.Context, story *models.Story) (string, error) {
	ret := _m.Called(ctx, story)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, *models.Story) string); ok {
		r0 = rf(ctx, story)
	} else {
		r0 = ret.String(0)
	}
	return r0, ret.Error(1)
}

// GetStory provides a mock function with given fields: ctx, storyID
func (_m *MockStoryDocumentGateway) GetStory(ctx context.Context, storyID string) (*models.Story, error) {
	ret := _m.Called(ctx, storyID)

	var r0 *models.Story
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Story)
	}
	return r0, ret.Error(1)
}

// UpdateStory provides a mock function with given fields: ctx, storyID, update
func (_m *MockStoryDocumentGateway) UpdateStory(ctx context.Context, storyID string, update models.StoryUpdate) error {
	ret := _m.Called(ctx, storyID, update)
	return ret.Error(0)
}

// PatchPage provides a mock function with given fields: ctx, storyID, pageNum, patch
func (_m *MockStoryDocumentGateway) PatchPage(ctx context.Context, storyID string, pageNum int, patch models.PagePatch) (*models.Story, error) {
	ret := _m.Called(ctx, storyID, pageNum, patch)

	var r0 *models.Story
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Story)
	}
	return r0, ret.Error(1)
}

// MarkReadyNotified provides a mock function with given fields: ctx, storyID
func (_m *MockStoryDocumentGateway) MarkReadyNotified(ctx context.Context, storyID string) error {
	ret := _m.Called(ctx, storyID)
	return ret.Error(0)
}

// NewMockStoryDocumentGateway creates a new instance of MockStoryDocumentGateway.
func NewMockStoryDocumentGateway(t interface {
	mock.TestingT
	Helper()
}) *MockStoryDocumentGateway {
	m := &MockStoryDocumentGateway{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ interfaces.StoryDocumentGateway = (*MockStoryDocumentGateway)(nil)
