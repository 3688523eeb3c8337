package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opsdeck/dispatch/task"
)

// priorityRank orders rows most urgent first.
const priorityRank = `CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END`

const taskColumns = `id, type, target_id, target_type, description, payload, status,
	assigned_to, source_agent, source_dashboard, priority, created_by,
	result, error, metadata, created_at, claimed_at, started_at, completed_at, due_at`

// Insert persists a new task row.
func (s *TaskStore) Insert(t *task.Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, string(t.Type), t.TargetID, string(t.TargetType), t.Description, t.Payload,
		string(t.Status), t.AssignedTo, t.SourceAgent, string(t.SourceDashboard),
		string(t.Priority), t.CreatedBy, t.Result, t.Error, t.Metadata,
		t.CreatedAt, nullTime(t.ClaimedAt), nullTime(t.StartedAt),
		nullTime(t.CompletedAt), nullTime(t.DueAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get retrieves a task by ID.
func (s *TaskStore) Get(id string) (*task.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	return t, err
}

// UpdateStatus applies m in a single statement guarded by the current
// status. This is the compare-and-swap the lifecycle depends on: the status
// check and the write happen in one atomic UPDATE, never a read-then-write
// pair.
func (s *TaskStore) UpdateStatus(id string, from []task.Status, m task.Mutation) (bool, error) {
	set := strings.Builder{}
	set.WriteString("status=?")
	args := []any{string(m.Status)}

	if m.AssignedTo != nil {
		set.WriteString(", assigned_to=?")
		args = append(args, *m.AssignedTo)
	}
	if m.ClaimedAt != nil {
		set.WriteString(", claimed_at=?")
		args = append(args, *m.ClaimedAt)
	}
	if m.StartedAt != nil {
		set.WriteString(", started_at=?")
		args = append(args, *m.StartedAt)
	}
	if m.CompletedAt != nil {
		set.WriteString(", completed_at=?")
		args = append(args, *m.CompletedAt)
	}
	if m.Result != nil {
		set.WriteString(", result=?")
		args = append(args, *m.Result)
	}
	if m.Error != nil {
		set.WriteString(", error=?")
		args = append(args, *m.Error)
	}

	args = append(args, id)
	placeholders := make([]string, len(from))
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	q := fmt.Sprintf("UPDATE tasks SET %s WHERE id=? AND status IN (%s)",
		set.String(), strings.Join(placeholders, ","))
	res, err := s.db.Exec(q, args...)
	if err != nil {
		return false, fmt.Errorf("update task status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// List returns tasks matching the filter, most urgent first and newest
// first within a priority tier.
func (s *TaskStore) List(f task.Filter) ([]*task.Task, error) {
	q := strings.Builder{}
	q.WriteString("SELECT " + taskColumns + " FROM tasks WHERE 1=1")
	args := []any{}

	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		q.WriteString(" AND status IN (" + strings.Join(placeholders, ",") + ")")
	}
	if f.AssignedTo != "" {
		q.WriteString(" AND assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.Type != "" {
		q.WriteString(" AND type=?")
		args = append(args, string(f.Type))
	}
	if f.Priority != "" {
		q.WriteString(" AND priority=?")
		args = append(args, string(f.Priority))
	}
	q.WriteString(" ORDER BY " + priorityRank + ", created_at DESC")
	if f.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", f.Limit))
	}

	rows, err := s.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// NextAvailable returns the single oldest, highest-priority pending task.
// Oldest-first within a tier keeps the dequeue fair, unlike List's
// newest-first listing order.
func (s *TaskStore) NextAvailable(taskType task.Type) (*task.Task, error) {
	q := "SELECT " + taskColumns + " FROM tasks WHERE status=?"
	args := []any{string(task.StatusPending)}
	if taskType != "" {
		q += " AND type=?"
		args = append(args, string(taskType))
	}
	q += " ORDER BY " + priorityRank + ", created_at ASC LIMIT 1"

	row := s.db.QueryRow(q, args...)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	return t, err
}

// Stats returns aggregate counts per status bucket, merging claimed and
// in_progress into one bucket.
func (s *TaskStore) Stats() (*task.Stats, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := &task.Stats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch task.Status(status) {
		case task.StatusPending:
			stats.Pending += count
		case task.StatusClaimed, task.StatusInProgress:
			stats.InProgress += count
		case task.StatusDone:
			stats.Done += count
		case task.StatusFailed:
			stats.Failed += count
		}
	}
	return stats, rows.Err()
}

func scanTask(sc scanner) (*task.Task, error) {
	var t task.Task
	var typ, targetType, status, sourceDashboard, priority string
	var claimedAt, startedAt, completedAt, dueAt sql.NullTime

	err := sc.Scan(
		&t.ID, &typ, &t.TargetID, &targetType, &t.Description, &t.Payload, &status,
		&t.AssignedTo, &t.SourceAgent, &sourceDashboard, &priority, &t.CreatedBy,
		&t.Result, &t.Error, &t.Metadata, &t.CreatedAt,
		&claimedAt, &startedAt, &completedAt, &dueAt,
	)
	if err != nil {
		return nil, err
	}

	t.Type = task.Type(typ)
	t.TargetType = task.TargetType(targetType)
	t.Status = task.Status(status)
	t.SourceDashboard = task.SourceDashboard(sourceDashboard)
	t.Priority = task.Priority(priority)

	t.ClaimedAt = timePtr(claimedAt)
	t.StartedAt = timePtr(startedAt)
	t.CompletedAt = timePtr(completedAt)
	t.DueAt = timePtr(dueAt)
	return &t, nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
