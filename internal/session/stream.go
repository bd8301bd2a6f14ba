package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/p-arndt/compilerz/internal/runtime"
)

// Result is the terminal state of a stream.
type Result struct {
	ExitCode int
	Aborted  bool
}

// Stream is one running command inside a sandbox. Read yields the merged
// terminal output until io.EOF (or ErrStreamAborted once aborted); Write
// sends bytes to the command's input.
type Stream struct {
	ID        string
	SessionID string

	proc     runtime.Process
	aborted  atomic.Bool
	once     sync.Once
	result   Result
	onFinish func(*Stream)
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.proc.Read(p)
	if err != nil && s.aborted.Load() {
		return n, ErrStreamAborted
	}
	return n, err
}

func (s *Stream) Write(p []byte) (int, error) {
	if s.aborted.Load() {
		return 0, ErrStreamAborted
	}
	return s.proc.Write(p)
}

// Abort tears the stream down. Pending and later reads fail with ErrStreamAborted.
func (s *Stream) Abort() {
	if s.aborted.CompareAndSwap(false, true) {
		s.proc.Close()
	}
}

func (s *Stream) Aborted() bool {
	return s.aborted.Load()
}

// Finish waits for the command to exit, releases the stream and returns its
// result. It is meant to be called after Read has returned an error and is
// safe to call more than once.
func (s *Stream) Finish(ctx context.Context) Result {
	s.once.Do(func() {
		if s.aborted.Load() {
			s.result = Result{ExitCode: -1, Aborted: true}
		} else {
			code, err := s.proc.Wait(ctx)
			s.proc.Close()
			// a stop racing with the exit still counts as an abort
			if s.aborted.Load() || (err != nil && !errors.Is(err, io.EOF)) {
				s.result = Result{ExitCode: -1, Aborted: s.aborted.Load()}
			} else {
				s.result = Result{ExitCode: code}
			}
		}
		if s.onFinish != nil {
			s.onFinish(s)
		}
	})
	return s.result
}
