package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/language"
	"github.com/p-arndt/compilerz/internal/runtime"
)

// Create registers a session for lang. It takes a warm sandbox from the pool
// when one is ready, otherwise it provisions the image if needed and starts
// a fresh sandbox under a new session ID.
func (m *Manager) Create(ctx context.Context, lang string) (*SessionInfo, error) {
	l, err := language.Parse(lang)
	if err != nil {
		return nil, err
	}
	img, err := l.Image()
	if err != nil {
		return nil, err
	}

	ctx, span := m.inst.Tracer.Start(ctx, "session.create")
	defer span.End()
	span.SetAttributes(attribute.String("language", string(l)))

	if m.pool != nil {
		if sb, ok := m.pool.Take(l); ok {
			span.SetAttributes(attribute.Bool("pooled", true))
			info := m.register(ctx, sb.SessionID, l, img, sb.Handle)
			m.pool.Adopted(sb.SessionID)
			return info, nil
		}
	}

	id := uuid.New().String()
	mu := m.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	if err := m.provision.EnsureImage(ctx, l); err != nil {
		m.removeSessionLock(id)
		span.RecordError(err)
		span.SetStatus(codes.Error, "provision")
		return nil, err
	}

	handle, err := m.runtime.Create(ctx, runtime.CreateOpts{
		SessionID: id,
		Language:  string(l),
		Image:     img.Ref,
	})
	if err != nil {
		m.removeSessionLock(id)
		span.RecordError(err)
		span.SetStatus(codes.Error, "create sandbox")
		return nil, fmt.Errorf("%w: %w", ErrSessionCreate, err)
	}

	return m.register(ctx, id, l, img, handle), nil
}

// register records a started sandbox as a live session.
func (m *Manager) register(ctx context.Context, id string, l language.Language, img language.Image, handle string) *SessionInfo {
	now := time.Now().UTC()
	m.mu.Lock()
	m.sessions[id] = &session{
		id:           id,
		language:     l,
		handle:       handle,
		createdAt:    now,
		lastActivity: now,
	}
	m.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("language", string(l)))
	m.inst.SessionsCreated.Add(ctx, 1, attrs)
	m.inst.SessionsActive.Add(ctx, 1)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("session_id", id))
	m.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("language", string(l)),
		zap.String("image", img.Ref))

	return &SessionInfo{
		ID:           id,
		Language:     string(l),
		CreatedAt:    now,
		LastActivity: now,
	}
}
