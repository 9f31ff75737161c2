package mocks

import (
	"context"

	"storybook-server/shared/interfaces"

	"github.com/stretchr/testify/mock"
)

// MockObjectStorage is a mock type for the ObjectStorage type
type MockObjectStorage struct {
	mock.Mock
}

// Upload provides a mock function with given fields: ctx, path, data, contentType
func (_m *MockObjectStorage) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	ret := _m.Called(ctx, path, data, contentType)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, []byte, string) string); ok {
		r0 = rf(ctx, path, data, contentType)
	} else {
		r0 = ret.String(0)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, []byte, string) error); ok {
		r1 = rf(ctx, path, data, contentType)
	} else {
		r1 = ret.Error(1)
	}
	return r0, r1
}

// NewMockObjectStorage creates a new instance of MockObjectStorage.
func NewMockObjectStorage(t interface {
	mock.TestingT
	Helper()
}) *MockObjectStorage {
	m := &MockObjectStorage{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ interfaces.ObjectStorage = (*MockObjectStorage)(nil)
