package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/p-arndt/compilerz/internal/language"
	"github.com/p-arndt/compilerz/internal/provision"
	"github.com/p-arndt/compilerz/internal/runtime"
	"github.com/p-arndt/compilerz/internal/telemetry"
	"github.com/p-arndt/compilerz/internal/testutil"
)

func TestCreate(t *testing.T) {
	mgr, drv, prov := newTestManager(t)

	info, err := mgr.Create(context.Background(), "python")
	require.NoError(t, err)

	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "python", info.Language)
	assert.False(t, info.CreatedAt.IsZero())
	prov.AssertCalled(t, "EnsureImage", mock.Anything, language.Python)

	require.Len(t, drv.Sandboxes, 1)
	for _, opts := range drv.Sandboxes {
		assert.Equal(t, info.ID, opts.SessionID)
		assert.Equal(t, "python:3.11-alpine", opts.Image)
	}
	assert.True(t, mgr.Has(info.ID))
}

func TestCreateUniqueIDs(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	seen := map[string]bool{}
	for range 20 {
		info := mustCreate(t, mgr, "js")
		assert.False(t, seen[info.ID], "duplicate id %s", info.ID)
		seen[info.ID] = true
	}
	assert.Len(t, mgr.List(), 20)
}

func TestCreateUnsupportedLanguage(t *testing.T) {
	mgr, drv, prov := newTestManager(t)

	_, err := mgr.Create(context.Background(), "cobol")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
	prov.AssertNotCalled(t, "EnsureImage", mock.Anything, mock.Anything)
	pl.AssertExpectations(t)
	assert.Empty(t, drv.Sandboxes)
	assert.Empty(t, mgr.List())
}

func TestCreateProvisionFailure(t *testing.T) {
	drv := testutil.NewFakeDriver()
	prov := &MockProvisioner{}
	prov.On("EnsureImage", mock.Anything, language.Rust).
		Return(fmt.Errorf("%w: rust:1.88-alpine: registry unreachable", provision.ErrProvision))
	mgr := NewManager(testutil.TestConfig(t), drv, prov, telemetry.Noop(), zaptest.NewLogger(t))

	_, err := mgr.Create(context.Background(), "rust")
	assert.ErrorIs(t, err, ErrProvision)
	assert.Empty(t, drv.Sandboxes)
	assert.Empty(t, mgr.List())
	assert.Empty(t, mgr.locks)
}

func TestCreateSandboxFailure(t *testing.T) {
	mgr, drv, _ := newTestManager(t)
	drv.CreateErr = errors.New("daemon unavailable")

	_, err := mgr.Create(context.Background(), "go")
	assert.ErrorIs(t, err, ErrSessionCreate)
	assert.Empty(t, mgr.List())
	assert.Empty(t, mgr.locks)
}

func TestCreateUsesPooledSandbox(t *testing.T) {
	mgr, drv, prov := newTestManager(t)
	pl := &MockPool{}
	mgr.SetPool(pl)

	drv.Sandboxes["warm-1"] = runtime.CreateOpts{SessionID: "pooled-id"}
	pl.On("Take", language.Go).Return(runtime.Sandbox{Handle: "warm-1", SessionID: "pooled-id"}, true)
	pl.On("Adopted", "pooled-id").Run(func(mock.Arguments) {
		// the session is registered before the pool lets go
		assert.True(t, mgr.Has("pooled-id"))
	}).Return()

	info, err := mgr.Create(context.Background(), "go")
	require.NoError(t, err)

	assert.Equal(t, "pooled-id", info.ID)
	assert.Len(t, drv.Sandboxes, 1)
	prov.AssertNotCalled(t, "EnsureImage", mock.Anything, mock.Anything)

	// the pooled handle is the one that gets stopped
	require.True(t, mgr.Stop(context.Background(), info.ID).Stopped)
	assert.Equal(t, []string{"warm-1"}, drv.StoppedHandles())
}

func TestCreateFallsBackWhenPoolEmpty(t *testing.T) {
	mgr, drv, _ := newTestManager(t)
	pl := &MockPool{}
	mgr.SetPool(pl)

	pl.On("Take", language.Python).Return(runtime.Sandbox{}, false)

	info, err := mgr.Create(context.Background(), "python")
	require.NoError(t, err)
	assert.Len(t, drv.Sandboxes, 1)
	assert.True(t, mgr.Has(info.ID))
	pl.AssertExpectations(t)
}
