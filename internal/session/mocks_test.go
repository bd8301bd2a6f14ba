package session

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/compilerz/internal/language"
	"github.com/p-arndt/compilerz/internal/runtime"
)

// MockProvisioner mocks the ImageProvisioner interface.
type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) EnsureImage(ctx context.Context, lang language.Language) error {
	args := m.Called(ctx, lang)
	return args.Error(0)
}

// MockPool mocks the SandboxPool interface.
type MockPool struct {
	mock.Mock
}

func (m *MockPool) Take(lang language.Language) (runtime.Sandbox, bool) {
	args := m.Called(lang)
	return args.Get(0).(runtime.Sandbox), args.Bool(1)
}

func (m *MockPool) Adopted(sessionID string) {
	m.Called(sessionID)
}
