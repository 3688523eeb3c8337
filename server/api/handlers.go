// Package api implements the Dispatch REST handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/dispatch/activity"
	"github.com/opsdeck/dispatch/agent"
	"github.com/opsdeck/dispatch/events"
	"github.com/opsdeck/dispatch/task"
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Manager  *task.Manager
	Queries  *task.QueryService
	Agents   agent.Store
	Activity activity.Logger
	Bus      events.Bus
	Logger   *slog.Logger
	Version  string
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("GET /api/tasks/next", h.nextTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", h.transitionTask)

	mux.HandleFunc("POST /api/agents", h.registerAgent)
	mux.HandleFunc("GET /api/agents", h.listAgents)
	mux.HandleFunc("GET /api/agents/{id}", h.getAgent)
	mux.HandleFunc("POST /api/agents/{id}/heartbeat", h.heartbeat)

	mux.HandleFunc("GET /api/activity", h.listActivity)

	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain errors onto HTTP statuses: validation to
// 400, missing rows to 404, anything else to 503 (the store could not be
// reached; the caller may retry).
func writeDomainError(w http.ResponseWriter, err error) {
	var ve *task.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, agent.ErrNotFound):
		writeError(w, http.StatusNotFound, "agent not found")
	default:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

// --- Task handlers ---

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var req task.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t, err := h.Manager.Create(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// listResponse wraps a listing when aggregate stats are requested.
type listResponse struct {
	Tasks []*task.Task `json:"tasks"`
	Stats *task.Stats  `json:"stats"`
}

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.Filter{}

	statuses, err := task.ParseStatuses(q.Get("status"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	filter.Statuses = statuses
	filter.AssignedTo = q.Get("assigned_to")
	if v := q.Get("type"); v != "" {
		if !task.Type(v).Valid() {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("invalid type %q, allowed: %v", v, task.Types()))
			return
		}
		filter.Type = task.Type(v)
	}
	if v := q.Get("priority"); v != "" {
		if !task.Priority(v).Valid() {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("invalid priority %q, allowed: %v", v, task.Priorities()))
			return
		}
		filter.Priority = task.Priority(v)
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", l))
			return
		}
		filter.Limit = n
	}

	tasks, err := h.Queries.List(filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}

	if q.Get("stats") == "true" {
		stats, err := h.Queries.Stats()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listResponse{Tasks: tasks, Stats: stats})
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Manager.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) nextTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Manager.NextAvailable(task.Type(r.URL.Query().Get("type")))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no pending tasks available")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// transitionRequest is the body accepted by PATCH /api/tasks/{id}.
type transitionRequest struct {
	Action    string `json:"action"`
	AgentName string `json:"agent_name,omitempty"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// transitionResponse returns the task after a transition attempt plus a
// human-readable status message.
type transitionResponse struct {
	Task    *task.Task `json:"task"`
	Message string     `json:"message"`
}

// conflictMessages phrase precondition no-ops for callers. A losing racer
// is expected behavior, not a server fault.
var conflictMessages = map[string]string{
	"claim":    "could not claim task (may already be claimed)",
	"start":    "could not start task (must be claimed first)",
	"complete": "could not complete task (must be claimed or in progress)",
	"fail":     "could not fail task (may already be finished)",
	"cancel":   "could not cancel task (must be pending or claimed)",
}

func (h *Handlers) transitionTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var ok bool
	var err error
	switch req.Action {
	case "claim":
		ok, err = h.Manager.Claim(id, req.AgentName)
	case "start":
		ok, err = h.Manager.Start(id)
	case "complete":
		ok, err = h.Manager.Complete(id, req.Result)
	case "fail":
		ok, err = h.Manager.Fail(id, req.Error)
	case "cancel":
		ok, err = h.Manager.Cancel(id)
	default:
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid action %q, allowed: claim, start, complete, fail, cancel", req.Action))
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	t, getErr := h.Manager.Get(id)
	if getErr != nil {
		writeDomainError(w, getErr)
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, transitionResponse{
			Task:    t,
			Message: conflictMessages[req.Action],
		})
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{
		Task:    t,
		Message: fmt.Sprintf("task %s: %s ok", id, req.Action),
	})
}

// --- Agent handlers ---

func (h *Handlers) registerAgent(w http.ResponseWriter, r *http.Request) {
	var a agent.Agent
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if a.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	for _, c := range a.Capabilities {
		if !task.Type(c).Valid() {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("invalid capability %q, allowed: %v", c, task.Types()))
			return
		}
	}
	if a.Status != "" && !a.Status.Valid() {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid status %q, allowed: %v", a.Status, agent.Statuses()))
		return
	}

	now := time.Now().UTC()
	a.LastSeen = &now
	if err := h.Agents.Upsert(&a); err != nil {
		writeDomainError(w, err)
		return
	}
	registered, err := h.Agents.Get(a.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.recordActivity(registered.ID, activity.ActionAgentRegistered, registered.Name, now)
	h.publish(events.TypeAgentRegistered, registered.ID, registered, now)
	writeJSON(w, http.StatusCreated, registered)
}

func (h *Handlers) listAgents(w http.ResponseWriter, _ *http.Request) {
	agents, err := h.Agents.List()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if agents == nil {
		agents = []*agent.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *Handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.Agents.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handlers) heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.Agents.Heartbeat(r.PathValue("id"), time.Now().UTC()); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Activity handlers ---

func (h *Handlers) listActivity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", l))
			return
		}
		limit = n
	}
	entries, err := h.Activity.Recent(limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// publish emits a bus event, fire and forget like the lifecycle manager's
// own publishing.
func (h *Handlers) publish(typ events.EventType, agentName string, payload any, at time.Time) {
	if h.Bus == nil {
		return
	}
	err := h.Bus.Publish(context.Background(), &events.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Agent:     agentName,
		Payload:   payload,
		Timestamp: at,
	})
	if err != nil {
		h.Logger.Debug("publish event", "type", typ, "error", err)
	}
}

// recordActivity appends an audit entry, best-effort.
func (h *Handlers) recordActivity(actor, action, details string, at time.Time) {
	if h.Activity == nil {
		return
	}
	err := h.Activity.Record(activity.Entry{
		Actor:     actor,
		Action:    action,
		Details:   details,
		Timestamp: at,
	})
	if err != nil {
		h.Logger.Warn("record activity", "action", action, "error", err)
	}
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.Version,
	})
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
