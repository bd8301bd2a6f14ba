// Package reaper stops idle sessions and removes sandboxes no session owns.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Reaper struct {
	sessions SessionRegistry
	runtime  ReaperRuntime
	interval time.Duration
	idleTTL  time.Duration // 0 disables idle reaping
	logger   *zap.Logger
	pool     PoolOwner // optional

	now       func() time.Time
	startedAt time.Time
}

func New(sessions SessionRegistry, rt ReaperRuntime, interval, idleTTL time.Duration, logger *zap.Logger) *Reaper {
	return &Reaper{
		sessions:  sessions,
		runtime:   rt,
		interval:  interval,
		idleTTL:   idleTTL,
		logger:    logger,
		now:       time.Now,
		startedAt: time.Now(),
	}
}

// SetPool makes the reaper leave pre-warmed sandboxes alone.
func (r *Reaper) SetPool(p PoolOwner) {
	r.pool = p
}

// Run reconciles once, then reaps on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started",
		zap.Duration("interval", r.interval),
		zap.Duration("idle_ttl", r.idleTTL))

	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.reapIdle(ctx)
			// a sandbox younger than one interval may belong to a Create in flight
			r.removeOrphans(ctx, r.now().Add(-r.interval))
		}
	}
}

// reconcile removes sandboxes left behind by a previous process.
func (r *Reaper) reconcile(ctx context.Context) {
	r.logger.Info("reconciliation starting")
	removed := r.removeOrphans(ctx, r.startedAt)
	r.logger.Info("reconciliation complete", zap.Int("removed", removed))
}

// removeOrphans force-removes managed sandboxes created before cutoff whose
// session is not registered.
func (r *Reaper) removeOrphans(ctx context.Context, cutoff time.Time) int {
	boxes, err := r.runtime.ListManaged(ctx)
	if err != nil {
		r.logger.Error("reaper: list sandboxes", zap.Error(err))
		return 0
	}

	removed := 0
	for _, box := range boxes {
		if !box.CreatedAt.Before(cutoff) {
			continue
		}
		// pool first: a handed-out sandbox is registered before the pool lets go
		if r.pool != nil && r.pool.Owns(box.SessionID) {
			continue
		}
		if r.sessions.Has(box.SessionID) {
			continue
		}
		r.logger.Warn("removing orphaned sandbox",
			zap.String("handle", box.Handle),
			zap.String("session_id", box.SessionID))
		if err := r.runtime.Remove(ctx, box.Handle); err != nil {
			r.logger.Error("reaper: remove sandbox", zap.String("handle", box.Handle), zap.Error(err))
			continue
		}
		removed++
	}
	return removed
}

func (r *Reaper) reapIdle(ctx context.Context) {
	if r.idleTTL <= 0 {
		return
	}
	deadline := r.now().Add(-r.idleTTL)

	reaped := 0
	for _, info := range r.sessions.List() {
		if !info.LastActivity.Before(deadline) {
			continue
		}
		r.logger.Info("reaping idle session",
			zap.String("session_id", info.ID),
			zap.Time("last_activity", info.LastActivity))

		if res := r.sessions.Stop(ctx, info.ID); res.Err != nil {
			r.logger.Error("reaper: stop session", zap.String("session_id", info.ID), zap.Error(res.Err))
			continue
		}
		reaped++
	}

	if reaped > 0 {
		r.logger.Info("reaper: reaped sessions", zap.Int("count", reaped))
	}
}
