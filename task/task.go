// Package task defines the task model, its lifecycle state machine, and the
// persistence interface the lifecycle depends on.
package task

import "time"

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusClaimed    Status = "claimed"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Priority determines queue ordering.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns the sort position of a priority: urgent first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	default:
		return 3
	}
}

// Type categorizes the work a task represents.
type Type string

const (
	TypePost         Type = "post"
	TypeBook         Type = "book"
	TypeImage        Type = "image"
	TypeContent      Type = "content"
	TypeCode         Type = "code"
	TypeQATest       Type = "qa_test"
	TypeAutomation   Type = "automation"
	TypeAgentMessage Type = "agent_message"
)

// TargetType identifies what kind of entity a task's TargetID refers to.
type TargetType string

const (
	TargetPost       TargetType = "post"
	TargetBook       TargetType = "book"
	TargetImage      TargetType = "image"
	TargetCode       TargetType = "code"
	TargetTest       TargetType = "test"
	TargetDeployment TargetType = "deployment"
	TargetMessage    TargetType = "message"
	TargetGeneral    TargetType = "general"
)

// SourceDashboard identifies which dashboard created a task.
type SourceDashboard string

const (
	SourceContent SourceDashboard = "content"
	SourceCode    SourceDashboard = "code"
	SourceOps     SourceDashboard = "ops"
)

// Task is a unit of work for an agent. Payload and Metadata are opaque
// serialized blobs; their contents belong to the task type's consumer.
type Task struct {
	ID              string          `json:"id"`
	Type            Type            `json:"type"`
	TargetID        string          `json:"target_id,omitempty"`
	TargetType      TargetType      `json:"target_type,omitempty"`
	Description     string          `json:"description"`
	Payload         string          `json:"payload,omitempty"`
	Status          Status          `json:"status"`
	AssignedTo      string          `json:"assigned_to,omitempty"` // agent name
	SourceAgent     string          `json:"source_agent,omitempty"`
	SourceDashboard SourceDashboard `json:"source_dashboard,omitempty"`
	Priority        Priority        `json:"priority"`
	CreatedBy       string          `json:"created_by"`
	Result          string          `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	Metadata        string          `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	DueAt           *time.Time      `json:"due_at,omitempty"` // advisory only
}

// Filter controls which tasks List returns. Filters are conjunctive.
type Filter struct {
	Statuses   []Status `json:"statuses,omitempty"`
	AssignedTo string   `json:"assigned_to,omitempty"`
	Type       Type     `json:"type,omitempty"`
	Priority   Priority `json:"priority,omitempty"`
	Limit      int      `json:"limit,omitempty"` // default 100
}

// Stats aggregates task counts per status bucket. InProgress merges the
// claimed and in_progress statuses.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
}

// Mutation describes the fields a conditional status update sets. Nil
// pointer fields are left unchanged.
type Mutation struct {
	Status      Status
	AssignedTo  *string
	ClaimedAt   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      *string
	Error       *string
}

// Store persists and retrieves tasks. UpdateStatus is the concurrency
// primitive the lifecycle depends on: it must apply the mutation in a single
// atomic statement guarded by the current status, so that of two racing
// callers exactly one succeeds.
type Store interface {
	// Insert persists a new task row.
	Insert(t *Task) error

	// Get retrieves a task by ID, or ErrNotFound.
	Get(id string) (*Task, error)

	// UpdateStatus applies m only if the task's current status is in from.
	// It reports whether the update applied. A false return with nil error
	// means the precondition did not hold (or the task does not exist).
	UpdateStatus(id string, from []Status, m Mutation) (bool, error)

	// List returns tasks matching the filter, most urgent priority first
	// and newest first within a priority tier.
	List(f Filter) ([]*Task, error)

	// NextAvailable returns the single highest-priority, oldest pending
	// task, optionally filtered by type. ErrNotFound when the queue is
	// empty.
	NextAvailable(taskType Type) (*Task, error)

	// Stats returns aggregate counts per status bucket.
	Stats() (*Stats, error)
}
