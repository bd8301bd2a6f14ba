package relay

import (
	"context"

	"github.com/p-arndt/compilerz/internal/session"
	"github.com/p-arndt/compilerz/protocol"
)

// Sink delivers outbound events to one client connection.
type Sink interface {
	Send(ev protocol.Event) error
}

// SessionRunner is the part of the session manager the relay drives.
type SessionRunner interface {
	Run(ctx context.Context, sessionID, command string) (*session.Stream, error)
	Stream(sessionID, runID string) (*session.Stream, bool)
	Touch(sessionID string)
}
