package api

import (
	"context"

	"github.com/p-arndt/compilerz/internal/relay"
	"github.com/p-arndt/compilerz/internal/session"
)

// SessionService abstracts the session operations needed by the HTTP handlers.
type SessionService interface {
	Create(ctx context.Context, lang string) (*session.SessionInfo, error)
	Get(id string) (*session.SessionInfo, error)
	List() []session.SessionInfo
	Stop(ctx context.Context, id string) session.StopResult
	WriteFile(ctx context.Context, id, filename string, content []byte) error
}

// ConnectionRelay abstracts the connection registry driven by the websocket handler.
type ConnectionRelay interface {
	Connect(connID string, sink relay.Sink)
	Disconnect(connID string)
	BindSession(connID, sessionID string) error
	StartExecution(ctx context.Context, connID, command string) error
	ForwardInput(connID string, data []byte)
}
