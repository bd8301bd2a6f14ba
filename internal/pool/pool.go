// Package pool keeps pre-warmed sandboxes ready per language so that a new
// session can skip image provisioning and container start.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/language"
	"github.com/p-arndt/compilerz/internal/runtime"
)

const (
	refillInterval = 5 * time.Second
	refillBackoff  = 2 * time.Second
)

// Pool maintains pre-warmed sandboxes ready for instant use.
type Pool struct {
	runtime   PoolRuntime
	provision ImageProvisioner
	logger    *zap.Logger
	sizes     map[language.Language]int

	mu      sync.RWMutex
	ready   map[language.Language]chan runtime.Sandbox
	nudge   map[language.Language]chan struct{}
	owned   map[string]struct{} // session IDs of sandboxes sitting in the pool
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds a pool from a language -> size map. Languages with size 0 are
// ignored. New returns nil when nothing is to be pooled.
func New(sizes map[string]int, rt PoolRuntime, prov ImageProvisioner, logger *zap.Logger) (*Pool, error) {
	parsed := make(map[language.Language]int)
	for name, size := range sizes {
		if size <= 0 {
			continue
		}
		l, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("pool: %w", err)
		}
		parsed[l] = size
	}
	if len(parsed) == 0 {
		return nil, nil
	}

	p := &Pool{
		runtime:   rt,
		provision: prov,
		logger:    logger,
		sizes:     parsed,
		ready:     make(map[language.Language]chan runtime.Sandbox),
		nudge:     make(map[language.Language]chan struct{}),
		owned:     make(map[string]struct{}),
		stopCh:    make(chan struct{}),
	}
	for l, size := range parsed {
		p.ready[l] = make(chan runtime.Sandbox, size)
		p.nudge[l] = make(chan struct{}, 1)
	}
	return p, nil
}

// Start begins pre-warming sandboxes in the background.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	for l, size := range p.sizes {
		p.logger.Info("starting sandbox pool", zap.String("language", string(l)), zap.Int("size", size))
		p.wg.Add(1)
		go p.refillWorker(ctx, l, size)
	}
}

// Stop shuts the refill workers down and stops every pooled sandbox.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("stopping sandbox pool")

	for l, ch := range p.ready {
		for {
			var sb runtime.Sandbox
			select {
			case sb = <-ch:
			default:
			}
			if sb.Handle == "" {
				break
			}
			p.forget(sb.SessionID)
			p.logger.Debug("removing pooled sandbox", zap.String("language", string(l)), zap.String("handle", sb.Handle))
			if err := p.runtime.Stop(ctx, sb.Handle); err != nil {
				p.logger.Warn("stop pooled sandbox", zap.String("handle", sb.Handle), zap.Error(err))
			}
		}
	}
}

// Take hands out a warm sandbox for lang. It never blocks; ok is false when
// the pool for lang is empty or not configured. The pool keeps owning the
// sandbox until Adopted is called for it.
func (p *Pool) Take(lang language.Language) (runtime.Sandbox, bool) {
	ch, ok := p.ready[lang]
	if !ok {
		return runtime.Sandbox{}, false
	}

	select {
	case sb := <-ch:
		select {
		case p.nudge[lang] <- struct{}{}:
		default:
		}
		p.logger.Debug("using pooled sandbox", zap.String("language", string(lang)), zap.String("handle", sb.Handle))
		return sb, true
	default:
		return runtime.Sandbox{}, false
	}
}

// Adopted releases ownership of a taken sandbox once its session is registered.
func (p *Pool) Adopted(sessionID string) {
	p.forget(sessionID)
}

// Owns reports whether sessionID names a sandbox held by the pool, either
// waiting or taken and not yet adopted.
func (p *Pool) Owns(sessionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.owned[sessionID]
	return ok
}

// available returns the number of warm sandboxes ready for lang.
func (p *Pool) available(lang language.Language) int {
	return len(p.ready[lang])
}

func (p *Pool) forget(sessionID string) {
	p.mu.Lock()
	delete(p.owned, sessionID)
	p.mu.Unlock()
}

// refillWorker keeps the pool for lang at its target size.
func (p *Pool) refillWorker(ctx context.Context, lang language.Language, target int) {
	defer p.wg.Done()
	ticker := time.NewTicker(refillInterval)
	defer ticker.Stop()

	p.refill(ctx, lang, target)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
		case <-p.nudge[lang]:
		}
		p.refill(ctx, lang, target)
	}
}

func (p *Pool) refill(ctx context.Context, lang language.Language, target int) {
	ch := p.ready[lang]
	needed := target - p.available(lang)
	if needed <= 0 {
		return
	}

	img, err := lang.Image()
	if err != nil {
		p.logger.Error("pool: resolve image", zap.String("language", string(lang)), zap.Error(err))
		return
	}
	if err := p.provision.EnsureImage(ctx, lang); err != nil {
		p.logger.Error("pool: provision image", zap.String("language", string(lang)), zap.Error(err))
		p.sleep(ctx, refillBackoff)
		return
	}

	p.logger.Debug("refilling pool",
		zap.String("language", string(lang)),
		zap.Int("current", p.available(lang)),
		zap.Int("target", target))

	for i := 0; i < needed; i++ {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		id := uuid.New().String()
		handle, err := p.runtime.Create(ctx, runtime.CreateOpts{
			SessionID: id,
			Language:  string(lang),
			Image:     img.Ref,
		})
		if err != nil {
			p.logger.Error("pool: create sandbox", zap.String("language", string(lang)), zap.Error(err))
			p.sleep(ctx, refillBackoff)
			continue
		}

		sb := runtime.Sandbox{Handle: handle, SessionID: id, CreatedAt: time.Now().UTC()}
		p.mu.Lock()
		p.owned[id] = struct{}{}
		p.mu.Unlock()

		select {
		case ch <- sb:
		default:
			// filled concurrently
			p.forget(id)
			if err := p.runtime.Stop(ctx, handle); err != nil {
				p.logger.Warn("stop excess sandbox", zap.String("handle", handle), zap.Error(err))
			}
		}
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-p.stopCh:
	case <-t.C:
	}
}
