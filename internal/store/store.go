// Package store persists lifecycle events (starts, stops, restarts, idle
// shutdowns) so operators can reconstruct what the daemon did and when.
package store

import (
	"context"
	"time"
)

// Event is one recorded lifecycle event.
type Event struct {
	ID         int64     `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Profile    string    `json:"profile"`
	Event      string    `json:"event"`
	Detail     string    `json:"detail,omitempty"`
}

// Store is the event log behind the supervisor and idle controller.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordEvent(ctx context.Context, profile, event, detail string) error
	RecentEvents(ctx context.Context, profile string, limit int) ([]Event, error)
	Close() error
}
