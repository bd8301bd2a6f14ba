package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Run starts command through a shell in the session's sandbox and returns
// the stream attached to it. A session runs one command at a time: Run
// fails with ErrRunInProgress while another stream is live. The session
// lock is held across Exec so a concurrent Stop either happens first or
// aborts the new stream.
func (m *Manager) Run(ctx context.Context, id, command string) (*Stream, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("%w: empty command", ErrExec)
	}
	if _, ok := m.lookup(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	mu := m.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	s, ok := m.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if m.Running(id) {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, id)
	}

	proc, err := m.runtime.Exec(ctx, s.handle, []string{"sh", "-c", command})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExec, err)
	}

	st := &Stream{
		ID:        uuid.New().String()[:8],
		SessionID: id,
		proc:      proc,
		onFinish:  m.releaseStream,
	}

	m.streamsMu.Lock()
	if m.streams[id] == nil {
		m.streams[id] = make(map[string]*Stream)
	}
	m.streams[id][st.ID] = st
	m.streamsMu.Unlock()

	m.Touch(id)
	m.inst.RunsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("language", string(s.language))))
	m.logger.Info("run started",
		zap.String("session_id", id),
		zap.String("run_id", st.ID),
		zap.String("command", command))
	return st, nil
}

// Stream returns a live stream of the session. With an empty runID it
// returns any live stream.
func (m *Manager) Stream(sessionID, runID string) (*Stream, bool) {
	m.streamsMu.Lock()
	defer m.streamsMu.Unlock()
	if runID != "" {
		st, ok := m.streams[sessionID][runID]
		if !ok || st.Aborted() {
			return nil, false
		}
		return st, true
	}
	for _, st := range m.streams[sessionID] {
		if !st.Aborted() {
			return st, true
		}
	}
	return nil, false
}

// Running reports whether the session has a live stream.
func (m *Manager) Running(sessionID string) bool {
	_, ok := m.Stream(sessionID, "")
	return ok
}

func (m *Manager) releaseStream(st *Stream) {
	m.streamsMu.Lock()
	if runs, ok := m.streams[st.SessionID]; ok && runs[st.ID] == st {
		delete(runs, st.ID)
		if len(runs) == 0 {
			delete(m.streams, st.SessionID)
		}
	}
	m.streamsMu.Unlock()

	m.inst.RunsFinished.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Bool("aborted", st.result.Aborted)))
	m.logger.Info("run finished",
		zap.String("session_id", st.SessionID),
		zap.String("run_id", st.ID),
		zap.Int("exit_code", st.result.ExitCode),
		zap.Bool("aborted", st.result.Aborted))
}

// abortStreams aborts every stream of the session.
func (m *Manager) abortStreams(sessionID string) {
	m.streamsMu.Lock()
	runs := m.streams[sessionID]
	delete(m.streams, sessionID)
	m.streamsMu.Unlock()
	for _, st := range runs {
		st.Abort()
	}
}
