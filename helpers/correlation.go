package helpers

import (
	"context"

	"github.com/google/uuid"
)

type correlationKey struct{}

// WithCorrelationID returns a context carrying the correlation id
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id stored in ctx, or ""
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// EnsureCorrelationID reuses the correlation id already in ctx or attaches a new one.
// Nested operations therefore share the id of the outermost run.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithCorrelationID(ctx, id), id
}
