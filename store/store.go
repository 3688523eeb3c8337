// Package store implements task, agent, and activity persistence over a
// single SQLite database.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	target_id        TEXT NOT NULL DEFAULT '',
	target_type      TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL,
	payload          TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	assigned_to      TEXT NOT NULL DEFAULT '',
	source_agent     TEXT NOT NULL DEFAULT '',
	source_dashboard TEXT NOT NULL DEFAULT '',
	priority         TEXT NOT NULL DEFAULT 'normal',
	created_by       TEXT NOT NULL DEFAULT '',
	result           TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT '',
	metadata         TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL,
	claimed_at       DATETIME,
	started_at       DATETIME,
	completed_at     DATETIME,
	due_at           DATETIME
);

CREATE TABLE IF NOT EXISTS agents (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	type             TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	capabilities     TEXT NOT NULL DEFAULT '[]',
	status           TEXT NOT NULL DEFAULT 'active',
	last_seen        DATETIME,
	xp               INTEGER NOT NULL DEFAULT 0,
	level            INTEGER NOT NULL DEFAULT 1,
	total_tasks_done INTEGER NOT NULL DEFAULT 0,
	current_streak   INTEGER NOT NULL DEFAULT 0,
	longest_streak   INTEGER NOT NULL DEFAULT 0,
	badges           TEXT NOT NULL DEFAULT '[]',
	last_task_at     DATETIME
);

CREATE TABLE IF NOT EXISTS activity (
	id        TEXT PRIMARY KEY,
	actor     TEXT NOT NULL,
	action    TEXT NOT NULL,
	details   TEXT NOT NULL DEFAULT '',
	timestamp DATETIME NOT NULL
);
`

// SQLite persists tasks, agents, and activity entries in one SQLite
// database. The typed views returned by Tasks, Agents, and Activity
// implement task.Store, agent.Store, and activity.Logger respectively.
type SQLite struct {
	db *sql.DB

	tasks    TaskStore
	agents   AgentStore
	activity ActivityLog
}

// TaskStore is the task persistence view of the database.
type TaskStore struct {
	db *sql.DB
}

// AgentStore is the agent persistence view of the database.
type AgentStore struct {
	db *sql.DB
}

// ActivityLog is the audit-trail view of the database.
type ActivityLog struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at dbPath and ensures the
// schema exists. The caller is responsible for calling Close.
func Open(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{
		db:       db,
		tasks:    TaskStore{db: db},
		agents:   AgentStore{db: db},
		activity: ActivityLog{db: db},
	}, nil
}

// Tasks returns the task store view.
func (s *SQLite) Tasks() *TaskStore { return &s.tasks }

// Agents returns the agent store view.
func (s *SQLite) Agents() *AgentStore { return &s.agents }

// Activity returns the audit-trail view.
func (s *SQLite) Activity() *ActivityLog { return &s.activity }

// Close releases the underlying database connection.
func (s *SQLite) Close() error { return s.db.Close() }

// scanner abstracts sql.Row and sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}
