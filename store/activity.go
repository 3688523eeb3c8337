package store

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/opsdeck/dispatch/activity"
)

// Record appends an audit entry, assigning an ID if the caller left it
// empty.
func (s *ActivityLog) Record(e activity.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO activity (id, actor, action, details, timestamp) VALUES (?,?,?,?,?)`,
		e.ID, e.Actor, e.Action, e.Details, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *ActivityLog) Recent(limit int) ([]activity.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, actor, action, details, timestamp FROM activity
		 ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var entries []activity.Entry
	for rows.Next() {
		var e activity.Entry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
