package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/runtime"
)

// StopResult reports the outcome of Stop. Err is set only when Stopped is false.
type StopResult struct {
	Stopped bool
	Err     error
}

// Stop aborts every stream of the session, stops its sandbox and removes it
// from the registry. An unknown ID leaves the registry untouched. If the
// backend fails to stop the sandbox the session stays registered so the
// caller may retry.
func (m *Manager) Stop(ctx context.Context, id string) StopResult {
	if _, ok := m.lookup(id); !ok {
		return StopResult{Err: fmt.Errorf("%w: %s", ErrSessionNotFound, id)}
	}

	mu := m.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	// re-check: a concurrent Stop may have won the lock first
	s, ok := m.lookup(id)
	if !ok {
		return StopResult{Err: fmt.Errorf("%w: %s", ErrSessionNotFound, id)}
	}

	m.abortStreams(id)

	if err := m.runtime.Stop(ctx, s.handle); err != nil {
		if !errors.Is(err, runtime.ErrNotFound) {
			m.logger.Error("stop sandbox failed", zap.String("session_id", id), zap.Error(err))
			return StopResult{Err: fmt.Errorf("stop sandbox: %w", err)}
		}
		m.logger.Warn("sandbox already gone", zap.String("session_id", id))
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.removeSessionLock(id)

	m.inst.SessionsStopped.Add(ctx, 1)
	m.inst.SessionsActive.Add(ctx, -1)
	m.logger.Info("session stopped", zap.String("session_id", id))

	return StopResult{Stopped: true}
}

// StopAll stops every registered session. Used on shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	for _, info := range m.List() {
		if res := m.Stop(ctx, info.ID); res.Err != nil && !errors.Is(res.Err, ErrSessionNotFound) {
			m.logger.Warn("stop on shutdown failed", zap.String("session_id", info.ID), zap.Error(res.Err))
		}
	}
}
