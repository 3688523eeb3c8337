// Package activity defines the best-effort audit trail of lifecycle events.
// Recording is diagnostic only: callers swallow errors so a failed write can
// never abort the operation being recorded.
package activity

import "time"

// Actions recorded in the trail.
const (
	ActionTaskCreated     = "task_created"
	ActionTaskClaimed     = "task_claimed"
	ActionTaskStarted     = "task_started"
	ActionTaskCompleted   = "task_completed"
	ActionTaskFailed      = "task_failed"
	ActionTaskCancelled   = "task_cancelled"
	ActionAgentRegistered = "agent_registered"
)

// Entry is one audit record.
type Entry struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger records and lists audit entries.
type Logger interface {
	// Record appends an entry. An empty ID is assigned by the implementation.
	Record(e Entry) error

	// Recent returns the newest entries, most recent first.
	Recent(limit int) ([]Entry, error)
}
