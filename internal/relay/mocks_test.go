package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/p-arndt/compilerz/internal/language"
	"github.com/p-arndt/compilerz/protocol"
)

type noopProvisioner struct{}

func (noopProvisioner) EnsureImage(context.Context, language.Language) error { return nil }

// chanSink records events sent to a connection.
type chanSink struct {
	events chan protocol.Event

	mu     sync.Mutex
	broken bool
}

func newChanSink() *chanSink {
	return &chanSink{events: make(chan protocol.Event, 256)}
}

func (s *chanSink) Send(ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return errors.New("connection closed")
	}
	s.events <- ev
	return nil
}

func (s *chanSink) next(timeout time.Duration) (protocol.Event, bool) {
	select {
	case ev := <-s.events:
		return ev, true
	case <-time.After(timeout):
		return protocol.Event{}, false
	}
}
