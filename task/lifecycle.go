package task

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/dispatch/activity"
	"github.com/opsdeck/dispatch/agent"
	"github.com/opsdeck/dispatch/events"
	"github.com/opsdeck/dispatch/gamify"
)

// DefaultCreatedBy labels tasks whose creator is not identified.
const DefaultCreatedBy = "dashboard"

// CreateRequest carries the caller-supplied fields for a new task.
type CreateRequest struct {
	Type            Type            `json:"type"`
	Description     string          `json:"description"`
	TargetID        string          `json:"target_id,omitempty"`
	TargetType      TargetType      `json:"target_type,omitempty"`
	Priority        Priority        `json:"priority,omitempty"`
	AssignedTo      string          `json:"assigned_to,omitempty"`
	SourceAgent     string          `json:"source_agent,omitempty"`
	SourceDashboard SourceDashboard `json:"source_dashboard,omitempty"`
	Payload         string          `json:"payload,omitempty"`
	Metadata        string          `json:"metadata,omitempty"`
	DueAt           *time.Time      `json:"due_at,omitempty"`
	CreatedBy       string          `json:"created_by,omitempty"`
}

// Manager drives the task lifecycle state machine. Every transition is a
// single conditional update against the store: of two racing callers exactly
// one succeeds and the other observes a clean no-op, never an error.
//
// On a successful completion the manager applies the gamification engine to
// the assignee's stats and records an audit entry; neither side effect can
// fail the transition itself.
type Manager struct {
	store  Store
	agents agent.Store
	logger *slog.Logger

	activity activity.Logger
	bus      events.Bus
	xpAward  int
	now      func() time.Time
}

// NewManager creates a Manager over the given stores.
func NewManager(store Store, agents agent.Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		agents:  agents,
		logger:  logger,
		xpAward: gamify.DefaultAward,
		now:     time.Now,
	}
}

// SetActivityLog attaches the best-effort audit trail.
func (m *Manager) SetActivityLog(l activity.Logger) { m.activity = l }

// SetBus attaches the lifecycle event bus.
func (m *Manager) SetBus(b events.Bus) { m.bus = b }

// SetXPAward overrides the XP granted per completed task.
func (m *Manager) SetXPAward(n int) {
	if n > 0 {
		m.xpAward = n
	}
}

// SetClock overrides the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// newTaskID generates a time-prefixed ID with a random suffix, unique
// without coordination and roughly sortable by creation time.
func newTaskID(now time.Time) string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return fmt.Sprintf("task_%d_%s", now.UnixMilli(), hex.EncodeToString(b))
}

// Create validates the request and persists a new pending task.
func (m *Manager) Create(req CreateRequest) (*Task, error) {
	if req.Type == "" {
		return nil, missingField("type")
	}
	if !req.Type.Valid() {
		return nil, invalidEnum("type", string(req.Type), typeStrings())
	}
	if req.Description == "" {
		return nil, missingField("description")
	}
	if req.TargetType != "" && !req.TargetType.Valid() {
		return nil, invalidEnum("target_type", string(req.TargetType), targetTypeStrings())
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	if !req.Priority.Valid() {
		return nil, invalidEnum("priority", string(req.Priority), priorityStrings())
	}
	if req.SourceDashboard != "" && !req.SourceDashboard.Valid() {
		return nil, invalidEnum("source_dashboard", string(req.SourceDashboard), sourceDashboardStrings())
	}
	if req.CreatedBy == "" {
		req.CreatedBy = DefaultCreatedBy
	}

	now := m.now().UTC()
	t := &Task{
		ID:              newTaskID(now),
		Type:            req.Type,
		TargetID:        req.TargetID,
		TargetType:      req.TargetType,
		Description:     req.Description,
		Payload:         req.Payload,
		Status:          StatusPending,
		AssignedTo:      req.AssignedTo,
		SourceAgent:     req.SourceAgent,
		SourceDashboard: req.SourceDashboard,
		Priority:        req.Priority,
		CreatedBy:       req.CreatedBy,
		Metadata:        req.Metadata,
		CreatedAt:       now,
		DueAt:           req.DueAt,
	}
	if err := m.store.Insert(t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	m.record(req.CreatedBy, activity.ActionTaskCreated, fmt.Sprintf("%s: %s", t.Type, t.Description), now)
	m.publish(events.TypeTaskCreated, t.ID, req.CreatedBy, t, now)
	return t, nil
}

// Claim reserves a pending task for the named agent. It reports false when
// the task is not currently pending (already claimed, terminal, or missing);
// that is a normal concurrency outcome, not a fault.
func (m *Manager) Claim(id, agentName string) (bool, error) {
	if agentName == "" {
		return false, missingField("agent_name")
	}
	now := m.now().UTC()
	ok, err := m.store.UpdateStatus(id, []Status{StatusPending}, Mutation{
		Status:     StatusClaimed,
		AssignedTo: &agentName,
		ClaimedAt:  &now,
	})
	if err != nil {
		return false, fmt.Errorf("claim task %s: %w", id, err)
	}
	if ok {
		m.record(agentName, activity.ActionTaskClaimed, id, now)
		m.publish(events.TypeTaskClaimed, id, agentName, nil, now)
	}
	return ok, nil
}

// Start moves a claimed task into in_progress.
func (m *Manager) Start(id string) (bool, error) {
	now := m.now().UTC()
	ok, err := m.store.UpdateStatus(id, []Status{StatusClaimed}, Mutation{
		Status:    StatusInProgress,
		StartedAt: &now,
	})
	if err != nil {
		return false, fmt.Errorf("start task %s: %w", id, err)
	}
	if ok {
		m.record("", activity.ActionTaskStarted, id, now)
		m.publish(events.TypeTaskStarted, id, "", nil, now)
	}
	return ok, nil
}

// Complete finishes a claimed or in-progress task with the given result and
// awards XP to the assignee. The task's own conditional update guarantees a
// task completes at most once, which is what makes the unguarded agent stat
// write safe.
func (m *Manager) Complete(id, result string) (bool, error) {
	if result == "" {
		return false, missingField("result")
	}
	now := m.now().UTC()
	ok, err := m.store.UpdateStatus(id, []Status{StatusClaimed, StatusInProgress}, Mutation{
		Status:      StatusDone,
		CompletedAt: &now,
		Result:      &result,
	})
	if err != nil {
		return false, fmt.Errorf("complete task %s: %w", id, err)
	}
	if !ok {
		return false, nil
	}

	t, err := m.store.Get(id)
	if err != nil {
		m.logger.Warn("completed task not readable for award", "task", id, "error", err)
		return true, nil
	}
	if t.AssignedTo != "" {
		m.award(t.AssignedTo, now)
	}
	m.record(t.AssignedTo, activity.ActionTaskCompleted, id, now)
	m.publish(events.TypeTaskCompleted, id, t.AssignedTo, t, now)
	return true, nil
}

// Fail marks a task failed with the given error message.
func (m *Manager) Fail(id, errMsg string) (bool, error) {
	if errMsg == "" {
		return false, missingField("error")
	}
	now := m.now().UTC()
	ok, err := m.store.UpdateStatus(id, []Status{StatusPending, StatusClaimed, StatusInProgress}, Mutation{
		Status:      StatusFailed,
		CompletedAt: &now,
		Error:       &errMsg,
	})
	if err != nil {
		return false, fmt.Errorf("fail task %s: %w", id, err)
	}
	if ok {
		m.record("", activity.ActionTaskFailed, fmt.Sprintf("%s: %s", id, errMsg), now)
		m.publish(events.TypeTaskFailed, id, "", errMsg, now)
	}
	return ok, nil
}

// Cancel marks a pending or claimed task cancelled. Cancelled tasks carry
// neither result nor error.
func (m *Manager) Cancel(id string) (bool, error) {
	now := m.now().UTC()
	ok, err := m.store.UpdateStatus(id, []Status{StatusPending, StatusClaimed}, Mutation{
		Status:      StatusCancelled,
		CompletedAt: &now,
	})
	if err != nil {
		return false, fmt.Errorf("cancel task %s: %w", id, err)
	}
	if ok {
		m.record("", activity.ActionTaskCancelled, id, now)
		m.publish(events.TypeTaskCancelled, id, "", nil, now)
	}
	return ok, nil
}

// Get retrieves a task by ID.
func (m *Manager) Get(id string) (*Task, error) {
	return m.store.Get(id)
}

// NextAvailable returns the oldest highest-priority pending task, optionally
// filtered by type. It does not claim the task; the caller must still call
// Claim and may lose that race.
func (m *Manager) NextAvailable(taskType Type) (*Task, error) {
	if taskType != "" && !taskType.Valid() {
		return nil, invalidEnum("type", string(taskType), typeStrings())
	}
	return m.store.NextAvailable(taskType)
}

// award applies the gamification engine to the named agent and persists the
// result. An agent that completed work before registering gets a minimal
// record so the XP is not lost.
func (m *Manager) award(agentName string, now time.Time) {
	ag, err := m.agents.Get(agentName)
	switch {
	case err == nil:
		updated := gamify.Apply(ag.Stats(), m.xpAward, now)
		if err := m.agents.UpdateStats(agentName, updated); err != nil {
			m.logger.Error("persist agent stats", "agent", agentName, "error", err)
		}
	case errors.Is(err, agent.ErrNotFound):
		ag = &agent.Agent{ID: agentName, Name: agentName, Status: agent.StatusActive}
		ag.SetStats(gamify.Apply(gamify.Stats{}, m.xpAward, now))
		if err := m.agents.Upsert(ag); err != nil {
			m.logger.Error("register agent on award", "agent", agentName, "error", err)
			return
		}
		if err := m.agents.UpdateStats(agentName, ag.Stats()); err != nil {
			m.logger.Error("persist agent stats", "agent", agentName, "error", err)
		}
	default:
		m.logger.Error("load agent for award", "agent", agentName, "error", err)
	}
}

// record appends an audit entry. Failures are swallowed: the trail is
// diagnostic only and must never abort the primary operation.
func (m *Manager) record(actor, action, details string, now time.Time) {
	if m.activity == nil {
		return
	}
	if actor == "" {
		actor = "system"
	}
	err := m.activity.Record(activity.Entry{
		ID:        uuid.NewString(),
		Actor:     actor,
		Action:    action,
		Details:   details,
		Timestamp: now,
	})
	if err != nil {
		m.logger.Warn("record activity", "action", action, "error", err)
	}
}

// publish emits a lifecycle event. Fire and forget: delivery problems are
// logged and discarded.
func (m *Manager) publish(typ events.EventType, taskID, agentName string, payload any, now time.Time) {
	if m.bus == nil {
		return
	}
	err := m.bus.Publish(context.Background(), &events.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		TaskID:    taskID,
		Agent:     agentName,
		Payload:   payload,
		Timestamp: now,
	})
	if err != nil {
		m.logger.Debug("publish event", "type", typ, "error", err)
	}
}
