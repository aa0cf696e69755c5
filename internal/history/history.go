// Package history exports worker lifecycle events to external audit stores.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventSpawn EventType = "spawn"
	EventReady EventType = "ready"
	EventExit  EventType = "exit"
)

// Record identifies the worker an event belongs to.
type Record struct {
	WorkerID   int    `json:"worker_id"`
	PID        int    `json:"pid"`
	Generation int    `json:"generation"`
	Token      string `json:"token"`
	ExitReason string `json:"exit_reason,omitempty"`
	ExitError  string `json:"exit_error,omitempty"`
}

// Event represents a lifecycle event to be exported.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
