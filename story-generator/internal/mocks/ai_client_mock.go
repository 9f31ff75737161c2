package mocks

import (
	"context"

	"storybook-server/story-generator/internal/ai"

	"github.com/stretchr/testify/mock"
)

// MockTextGenerator is a mock type for the TextGenerator type
type MockTextGenerator struct {
	mock.Mock
}

// GenerateText provides a mock function with given fields: ctx, req
func (_m *MockTextGenerator) GenerateText(ctx context.Context, req ai.TextRequest) (string, error) {
	ret := _m.Called(ctx, req)

	if rf, ok := ret.Get(0).(func(context.Context, ai.TextRequest) (string, error)); ok {
		return rf(ctx, req)
	}

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, ai.TextRequest) string); ok {
		r0 = rf(ctx, req)
	} else {
		r0 = ret.String(0)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, ai.TextRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockTextGenerator creates a new instance of MockTextGenerator. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockTextGenerator(t interface {
	mock.TestingT
	Helper()
}) *MockTextGenerator {
	m := &MockTextGenerator{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ ai.TextGenerator = (*MockTextGenerator)(nil)

// MockImageGenerator is a mock type for the ImageGenerator type
type MockImageGenerator struct {
	mock.Mock
}

// GenerateImage provides a mock function with given fields: ctx, req
func (_m *MockImageGenerator) GenerateImage(ctx context.Context, req ai.ImageRequest) (string, error) {
	ret := _m.Called(ctx, req)

	if rf, ok := ret.Get(0).(func(context.Context, ai.ImageRequest) (string, error)); ok {
		return rf(ctx, req)
	}

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, ai.ImageRequest) string); ok {
		r0 = rf(ctx, req)
	} else {
		r0 = ret.String(0)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, ai.ImageRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockImageGenerator creates a new instance of MockImageGenerator.
func NewMockImageGenerator(t interface {
	mock.TestingT
	Helper()
}) *MockImageGenerator {
	m := &MockImageGenerator{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ ai.ImageGenerator = (*MockImageGenerator)(nil)
