// Package events provides the in-process lifecycle event bus. The lifecycle
// manager publishes fire-and-forget events here; the SSE layer and any other
// subscriber fan them out to dashboards.
package events

import (
	"context"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	TypeTaskCreated     EventType = "task_created"
	TypeTaskClaimed     EventType = "task_claimed"
	TypeTaskStarted     EventType = "task_started"
	TypeTaskCompleted   EventType = "task_completed"
	TypeTaskFailed      EventType = "task_failed"
	TypeTaskCancelled   EventType = "task_cancelled"
	TypeAgentRegistered EventType = "agent_registered"
)

// Event describes one lifecycle occurrence.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler processes published events.
type Handler func(ctx context.Context, ev *Event) error

// Bus is the event backbone. Publishing is advisory: the publisher's primary
// operation must not depend on delivery succeeding.
type Bus interface {
	// Publish delivers the event to all subscribers.
	Publish(ctx context.Context, ev *Event) error

	// Subscribe registers a handler for all events.
	// Returns an unsubscribe function.
	Subscribe(handler Handler) (unsubscribe func())

	// History returns the most recent events in chronological order.
	History(limit int) ([]*Event, error)
}
