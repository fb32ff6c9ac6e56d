// Package audit records who asked what, which handler served it and how
// each dispatched capability resolved.
package audit

import (
	"context"
	"time"
)

// Event is one audited query or capability dispatch.
type Event struct {
	QueryID    string
	Role       string
	ActorID    string
	Question   string
	Handler    string
	Capability string
	Status     string
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Filter narrows a List call. Zero values match everything.
type Filter struct {
	QueryID string
	Role    string
	Status  string
	Limit   int
}

// Store persists audit events.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// NopStore discards events. Used when auditing is disabled.
type NopStore struct{}

func (NopStore) Record(ctx context.Context, event Event) error       { return nil }
func (NopStore) List(ctx context.Context, f Filter) ([]Event, error) { return nil, nil }
