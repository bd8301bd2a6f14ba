package pool

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/compilerz/internal/language"
)

// MockProvisioner mocks the ImageProvisioner interface.
type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) EnsureImage(ctx context.Context, lang language.Language) error {
	args := m.Called(ctx, lang)
	return args.Error(0)
}
