// Package relay tracks client connections, their session bindings and
// active runs, and pumps execution output to the bound client.
package relay

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/session"
	"github.com/p-arndt/compilerz/internal/telemetry"
	"github.com/p-arndt/compilerz/protocol"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrNotBound          = errors.New("connection is not bound to a session")
	ErrRunInProgress     = session.ErrRunInProgress
)

const chunkSize = 4096

type Registry struct {
	runner SessionRunner
	inst   *telemetry.Instruments
	logger *zap.Logger

	mu    sync.RWMutex
	conns map[string]*conn
}

type conn struct {
	id   string
	sink Sink

	mu        sync.Mutex
	sessionID string
	run       *runRef
	closed    bool
}

// runRef names a run by session and run ID. The stream itself is owned by
// the session manager and resolved by lookup.
type runRef struct {
	sessionID string
	runID     string
}

func New(runner SessionRunner, inst *telemetry.Instruments, logger *zap.Logger) *Registry {
	return &Registry{
		runner: runner,
		inst:   inst,
		logger: logger,
		conns:  make(map[string]*conn),
	}
}

func (r *Registry) Connect(connID string, sink Sink) {
	r.mu.Lock()
	r.conns[connID] = &conn{id: connID, sink: sink}
	r.mu.Unlock()
	r.logger.Debug("connection registered", zap.String("conn_id", connID))
}

// Disconnect forgets the connection. Its session and any run keep going.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	delete(r.conns, connID)
	r.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	c.closed = true
	c.run = nil
	c.mu.Unlock()
	r.logger.Debug("connection removed", zap.String("conn_id", connID))
}

// BindSession points the connection at sessionID. Binding to a different
// session detaches the connection from its active run.
func (r *Registry) BindSession(connID, sessionID string) error {
	c, err := r.lookup(connID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil && c.run.sessionID != sessionID {
		c.run = nil
	}
	c.sessionID = sessionID
	return nil
}

// StartExecution runs command in the bound session and relays its output
// to the connection until it completes or is aborted.
func (r *Registry) StartExecution(ctx context.Context, connID, command string) error {
	c, err := r.lookup(connID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID == "" {
		return ErrNotBound
	}
	if c.run != nil {
		if _, live := r.runner.Stream(c.run.sessionID, c.run.runID); live {
			return ErrRunInProgress
		}
		c.run = nil
	}

	// the manager allows one live run per session across all callers
	sessionID := c.sessionID
	stream, err := r.runner.Run(ctx, sessionID, command)
	if err != nil {
		return err
	}

	ref := &runRef{sessionID: sessionID, runID: stream.ID}
	c.run = ref

	// the pump outlives the request that started it
	go r.pump(context.WithoutCancel(ctx), c, ref, stream)
	return nil
}

// ForwardInput writes data to the connection's live run. Input with no
// live run to receive it is dropped.
func (r *Registry) ForwardInput(connID string, data []byte) {
	c, err := r.lookup(connID)
	if err != nil {
		return
	}

	c.mu.Lock()
	ref := c.run
	c.mu.Unlock()
	if ref == nil {
		return
	}

	stream, ok := r.runner.Stream(ref.sessionID, ref.runID)
	if !ok {
		return
	}
	if _, err := stream.Write(data); err != nil {
		r.logger.Debug("input dropped", zap.String("conn_id", connID), zap.Error(err))
		return
	}
	r.runner.Touch(ref.sessionID)
}

func (r *Registry) lookup(connID string) (*conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return nil, ErrUnknownConnection
	}
	return c, nil
}
