package reaper

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/compilerz/internal/runtime"
	"github.com/p-arndt/compilerz/internal/session"
)

// MockSessionRegistry mocks the SessionRegistry interface.
type MockSessionRegistry struct {
	mock.Mock
}

func (m *MockSessionRegistry) List() []session.SessionInfo {
	args := m.Called()
	if sessions := args.Get(0); sessions != nil {
		return sessions.([]session.SessionInfo)
	}
	return nil
}

func (m *MockSessionRegistry) Has(id string) bool {
	args := m.Called(id)
	return args.Bool(0)
}

func (m *MockSessionRegistry) Stop(ctx context.Context, id string) session.StopResult {
	args := m.Called(ctx, id)
	return args.Get(0).(session.StopResult)
}

// MockReaperRuntime mocks the ReaperRuntime interface.
type MockReaperRuntime struct {
	mock.Mock
}

func (m *MockReaperRuntime) ListManaged(ctx context.Context) ([]runtime.Sandbox, error) {
	args := m.Called(ctx)
	if boxes := args.Get(0); boxes != nil {
		return boxes.([]runtime.Sandbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReaperRuntime) Remove(ctx context.Context, handle string) error {
	args := m.Called(ctx, handle)
	return args.Error(0)
}

type MockPoolOwner struct {
	mock.Mock
}

func (m *MockPoolOwner) Owns(sessionID string) bool {
	args := m.Called(sessionID)
	return args.Bool(0)
}
