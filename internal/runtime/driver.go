package runtime

import (
	"context"
	"errors"
	"io"
	"time"
)

// WorkDir is the directory inside every sandbox where files are injected
// and commands run.
const WorkDir = "/app"

// Terminal size handed to every interactive process.
const (
	TermRows = 40
	TermCols = 120
)

// ErrNotFound is returned when a sandbox handle no longer refers to a live sandbox.
var ErrNotFound = errors.New("sandbox not found")

type CreateOpts struct {
	SessionID string
	Language  string
	Image     string
}

// Sandbox describes a sandbox owned by this service, as seen by the backend.
type Sandbox struct {
	Handle    string
	SessionID string
	CreatedAt time.Time
}

// Process is a command attached through a terminal. Reads return the merged
// terminal output until io.EOF, writes go to the process input.
type Process interface {
	io.ReadWriteCloser
	// Wait blocks until the process has exited and returns its exit code.
	Wait(ctx context.Context) (int, error)
}

// Driver runs sandboxes. Handles are opaque to callers.
type Driver interface {
	Create(ctx context.Context, opts CreateOpts) (string, error)
	Stop(ctx context.Context, handle string) error
	CopyTo(ctx context.Context, handle, dir string, archive io.Reader) error
	Exec(ctx context.Context, handle string, cmd []string) (Process, error)
	Ping(ctx context.Context) error
	Close() error
}

// ImageStore is the image side of a backend.
type ImageStore interface {
	ImageExists(ctx context.Context, ref string) (bool, error)
	PullImage(ctx context.Context, ref string, progress func(string)) error
	BuildImage(ctx context.Context, ref string, buildContext io.Reader, progress func(string)) error
}

// Inventory lists and force-removes sandboxes regardless of session state.
type Inventory interface {
	ListManaged(ctx context.Context) ([]Sandbox, error)
	Remove(ctx context.Context, handle string) error
}
