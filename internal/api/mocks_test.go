package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/compilerz/internal/language"
	"github.com/p-arndt/compilerz/internal/relay"
	"github.com/p-arndt/compilerz/internal/session"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Create(ctx context.Context, lang string) (*session.SessionInfo, error) {
	args := m.Called(ctx, lang)
	if info := args.Get(0); info != nil {
		return info.(*session.SessionInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) Get(id string) (*session.SessionInfo, error) {
	args := m.Called(id)
	if info := args.Get(0); info != nil {
		return info.(*session.SessionInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) List() []session.SessionInfo {
	args := m.Called()
	if sessions := args.Get(0); sessions != nil {
		return sessions.([]session.SessionInfo)
	}
	return nil
}

func (m *MockSessionService) Stop(ctx context.Context, id string) session.StopResult {
	args := m.Called(ctx, id)
	return args.Get(0).(session.StopResult)
}

func (m *MockSessionService) WriteFile(ctx context.Context, id, filename string, content []byte) error {
	args := m.Called(ctx, id, filename, content)
	return args.Error(0)
}

type MockRelay struct {
	mock.Mock
}

func (m *MockRelay) Connect(connID string, sink relay.Sink) {
	m.Called(connID, sink)
}

func (m *MockRelay) Disconnect(connID string) {
	m.Called(connID)
}

func (m *MockRelay) BindSession(connID, sessionID string) error {
	args := m.Called(connID, sessionID)
	return args.Error(0)
}

func (m *MockRelay) StartExecution(ctx context.Context, connID, command string) error {
	args := m.Called(ctx, connID, command)
	return args.Error(0)
}

func (m *MockRelay) ForwardInput(connID string, data []byte) {
	m.Called(connID, data)
}

type noopProvisioner struct{}

func (noopProvisioner) EnsureImage(context.Context, language.Language) error { return nil }
