package provision

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockImageStore mocks runtime.ImageStore.
type MockImageStore struct {
	mock.Mock
}

func (m *MockImageStore) ImageExists(ctx context.Context, ref string) (bool, error) {
	args := m.Called(ctx, ref)
	return args.Bool(0), args.Error(1)
}

func (m *MockImageStore) PullImage(ctx context.Context, ref string, progress func(string)) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func (m *MockImageStore) BuildImage(ctx context.Context, ref string, buildContext io.Reader, progress func(string)) error {
	args := m.Called(ctx, ref, buildContext)
	return args.Error(0)
}
