package identity

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// WithIdentity binds id to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity bound to ctx, if any.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)

	return id, ok && id != nil
}

// Impersonator runs fn on behalf of id.
type Impersonator interface {
	RunAs(ctx context.Context, id *Identity, fn func(ctx context.Context) error) error
}

// NoopImpersonator runs fn unchanged.
type NoopImpersonator struct{}

func (NoopImpersonator) RunAs(ctx context.Context, _ *Identity, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// ContextImpersonator binds the identity to the run context so downstream
// handlers act for it, logging when impersonation starts and stops.
type ContextImpersonator struct {
	Logger *slog.Logger
}

func (c ContextImpersonator) RunAs(ctx context.Context, id *Identity, fn func(ctx context.Context) error) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if id.IsAnonymous() {
		return fn(ctx)
	}

	logger.InfoContext(ctx, "Impersonation started", "run_as", id.Name)

	defer logger.InfoContext(ctx, "Impersonation stopped", "run_as", id.Name)

	return fn(WithIdentity(ctx, id))
}
