package core

import (
	"context"

	"github.com/google/uuid"
)

type queryIDKey struct{}

// WithQueryID attaches a query id to the context.
func WithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, queryIDKey{}, id)
}

// QueryID returns the query id if present.
func QueryID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(queryIDKey{}).(string)
	return id, ok
}

// EnsureQueryID ensures a query id exists in the context.
func EnsureQueryID(ctx context.Context) (context.Context, string) {
	if id, ok := QueryID(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return WithQueryID(ctx, id), id
}
