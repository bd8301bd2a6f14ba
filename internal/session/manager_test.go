package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/p-arndt/compilerz/internal/telemetry"
	"github.com/p-arndt/compilerz/internal/testutil"
)

func newTestManager(t *testing.T) (*Manager, *testutil.FakeDriver, *MockProvisioner) {
	t.Helper()
	drv := testutil.NewFakeDriver()
	prov := &MockProvisioner{}
	prov.On("EnsureImage", mock.Anything, mock.Anything).Return(nil).Maybe()
	mgr := NewManager(testutil.TestConfig(t), drv, prov, telemetry.Noop(), zaptest.NewLogger(t))
	return mgr, drv, prov
}

func mustCreate(t *testing.T, mgr *Manager, lang string) *SessionInfo {
	t.Helper()
	info, err := mgr.Create(context.Background(), lang)
	require.NoError(t, err)
	return info
}
