// Package agent defines the worker agent identity and its persistence
// interface. Agents register themselves, heartbeat while alive, and
// accumulate gamification stats as they complete tasks.
package agent

import (
	"errors"
	"time"

	"github.com/opsdeck/dispatch/gamify"
)

// ErrNotFound is returned when an agent ID does not exist.
var ErrNotFound = errors.New("agent not found")

// Status represents an agent's availability.
type Status string

const (
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusOffline Status = "offline"
)

// Statuses lists the valid agent statuses.
func Statuses() []Status {
	return []Status{StatusActive, StatusPaused, StatusOffline}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses() {
		if s == v {
			return true
		}
	}
	return false
}

// Agent is a registered worker identity. Capabilities holds the task type
// names the agent can perform; it is validated against the task enumeration
// at the API boundary.
type Agent struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Type         string     `json:"type,omitempty"`
	Description  string     `json:"description,omitempty"`
	Capabilities []string   `json:"capabilities,omitempty"`
	Status       Status     `json:"status"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`

	XP             int        `json:"xp"`
	Level          int        `json:"level"`
	TotalTasksDone int        `json:"total_tasks_done"`
	CurrentStreak  int        `json:"current_streak"`
	LongestStreak  int        `json:"longest_streak"`
	Badges         []string   `json:"badges"`
	LastTaskAt     *time.Time `json:"last_task_at,omitempty"`
}

// Stats extracts the gamification slice of the agent record.
func (a *Agent) Stats() gamify.Stats {
	return gamify.Stats{
		XP:             a.XP,
		Level:          a.Level,
		TotalTasksDone: a.TotalTasksDone,
		CurrentStreak:  a.CurrentStreak,
		LongestStreak:  a.LongestStreak,
		Badges:         a.Badges,
		LastTaskAt:     a.LastTaskAt,
	}
}

// SetStats writes the gamification slice back onto the agent record.
func (a *Agent) SetStats(s gamify.Stats) {
	a.XP = s.XP
	a.Level = s.Level
	a.TotalTasksDone = s.TotalTasksDone
	a.CurrentStreak = s.CurrentStreak
	a.LongestStreak = s.LongestStreak
	a.Badges = s.Badges
	a.LastTaskAt = s.LastTaskAt
}

// Store persists and retrieves agents. Unlike task status transitions,
// agent writes need no conditional guard: stat updates are only triggered
// from a task completion, and a given task completes at most once.
type Store interface {
	// Get retrieves an agent by ID, or ErrNotFound.
	Get(id string) (*Agent, error)

	// Upsert registers an agent, inserting or updating its identity fields.
	// Gamification fields of an existing row are left untouched.
	Upsert(a *Agent) error

	// UpdateStats overwrites an existing agent's gamification fields.
	UpdateStats(id string, s gamify.Stats) error

	// Heartbeat records liveness, marking the agent active.
	Heartbeat(id string, at time.Time) error

	// List returns all agents ordered by XP descending.
	List() ([]*Agent, error)
}
