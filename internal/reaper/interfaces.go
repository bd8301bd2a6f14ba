package reaper

import (
	"context"

	"github.com/p-arndt/compilerz/internal/runtime"
	"github.com/p-arndt/compilerz/internal/session"
)

// SessionRegistry abstracts the session operations needed by the reaper.
type SessionRegistry interface {
	List() []session.SessionInfo
	Has(id string) bool
	Stop(ctx context.Context, id string) session.StopResult
}

// ReaperRuntime abstracts the sandbox inventory the reaper reconciles against.
type ReaperRuntime interface {
	ListManaged(ctx context.Context) ([]runtime.Sandbox, error)
	Remove(ctx context.Context, handle string) error
}

// PoolOwner reports sandboxes held by the warm pool.
type PoolOwner interface {
	Owns(sessionID string) bool
}
