package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/compilerz/internal/language"
	"github.com/p-arndt/compilerz/internal/runtime"
)

func TestStop(t *testing.T) {
	mgr, drv, _ := newTestManager(t)
	info := mustCreate(t, mgr, "python")

	res := mgr.Stop(context.Background(), info.ID)
	assert.True(t, res.Stopped)
	assert.NoError(t, res.Err)
	assert.False(t, mgr.Has(info.ID))
	assert.Len(t, drv.StoppedHandles(), 1)

	_, err := mgr.Get(info.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCreateThenStopEveryLanguage(t *testing.T) {
	for _, lang := range language.All() {
		t.Run(string(lang), func(t *testing.T) {
			mgr, drv, _ := newTestManager(t)

			info, err := mgr.Create(context.Background(), string(lang))
			require.NoError(t, err)
			assert.Equal(t, string(lang), info.Language)

			res := mgr.Stop(context.Background(), info.ID)
			assert.True(t, res.Stopped)
			assert.NoError(t, res.Err)
			assert.False(t, mgr.Has(info.ID))
			assert.Empty(t, drv.Live())
		})
	}
}

func TestStopUnknownSession(t *testing.T) {
	mgr, drv, _ := newTestManager(t)
	info := mustCreate(t, mgr, "python")

	res := mgr.Stop(context.Background(), "does-not-exist")
	assert.False(t, res.Stopped)
	assert.ErrorIs(t, res.Err, ErrSessionNotFound)

	// registry untouched
	assert.True(t, mgr.Has(info.ID))
	assert.Empty(t, drv.StoppedHandles())
	assert.NotContains(t, mgr.locks, "does-not-exist")
}

func TestStopTwice(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	info := mustCreate(t, mgr, "ruby")

	require.True(t, mgr.Stop(context.Background(), info.ID).Stopped)
	res := mgr.Stop(context.Background(), info.ID)
	assert.False(t, res.Stopped)
	assert.ErrorIs(t, res.Err, ErrSessionNotFound)
}

func TestStopBackendFailureKeepsSession(t *testing.T) {
	mgr, drv, _ := newTestManager(t)
	info := mustCreate(t, mgr, "java")
	drv.StopErr = errors.New("daemon unavailable")

	res := mgr.Stop(context.Background(), info.ID)
	assert.False(t, res.Stopped)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "daemon unavailable")
	assert.True(t, mgr.Has(info.ID))

	drv.StopErr = nil
	assert.True(t, mgr.Stop(context.Background(), info.ID).Stopped)
}

func TestStopSandboxAlreadyGone(t *testing.T) {
	mgr, drv, _ := newTestManager(t)
	info := mustCreate(t, mgr, "c")
	drv.StopErr = fmt.Errorf("%w: sandbox-1", runtime.ErrNotFound)

	res := mgr.Stop(context.Background(), info.ID)
	assert.True(t, res.Stopped)
	assert.False(t, mgr.Has(info.ID))
}

func TestStopConcurrent(t *testing.T) {
	mgr, drv, _ := newTestManager(t)
	info := mustCreate(t, mgr, "cpp")

	const callers = 8
	results := make(chan StopResult, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- mgr.Stop(context.Background(), info.ID)
		}()
	}
	wg.Wait()
	close(results)

	stopped := 0
	for res := range results {
		if res.Stopped {
			stopped++
		} else {
			assert.ErrorIs(t, res.Err, ErrSessionNotFound)
		}
	}
	assert.Equal(t, 1, stopped)
	assert.Len(t, drv.StoppedHandles(), 1)
}

func TestStopAll(t *testing.T) {
	mgr, drv, _ := newTestManager(t)
	mustCreate(t, mgr, "python")
	mustCreate(t, mgr, "js")

	mgr.StopAll(context.Background())
	assert.Empty(t, mgr.List())
	assert.Len(t, drv.StoppedHandles(), 2)
}
