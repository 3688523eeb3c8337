package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opsdeck/dispatch/agent"
	"github.com/opsdeck/dispatch/gamify"
)

const agentColumns = `id, name, type, description, capabilities, status, last_seen,
	xp, level, total_tasks_done, current_streak, longest_streak, badges, last_task_at`

// Get retrieves an agent by ID.
func (s *AgentStore) Get(id string) (*agent.Agent, error) {
	row := s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, agent.ErrNotFound
	}
	return a, err
}

// Upsert inserts the agent or, if the ID exists, updates its identity
// fields. Gamification columns are deliberately not touched on conflict so
// re-registration never resets earned progress.
func (s *AgentStore) Upsert(a *agent.Agent) error {
	if a.Name == "" {
		a.Name = a.ID
	}
	if a.Status == "" {
		a.Status = agent.StatusActive
	}
	if a.Level == 0 {
		a.Level = gamify.LevelFor(a.XP)
	}
	capabilities, _ := json.Marshal(a.Capabilities)
	badges, _ := json.Marshal(a.Badges)

	_, err := s.db.Exec(`
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, type=excluded.type, description=excluded.description,
			capabilities=excluded.capabilities, status=excluded.status,
			last_seen=excluded.last_seen`,
		a.ID, a.Name, a.Type, a.Description, string(capabilities), string(a.Status),
		nullTime(a.LastSeen),
		a.XP, a.Level, a.TotalTasksDone, a.CurrentStreak, a.LongestStreak,
		string(badges), nullTime(a.LastTaskAt),
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// UpdateStats overwrites an agent's gamification fields. No conditional
// guard is needed: a given task completes at most once, so the triggering
// write is already serialized by the task row's own compare-and-swap.
func (s *AgentStore) UpdateStats(id string, st gamify.Stats) error {
	badges, _ := json.Marshal(st.Badges)
	res, err := s.db.Exec(`
		UPDATE agents SET
			xp=?, level=?, total_tasks_done=?, current_streak=?, longest_streak=?,
			badges=?, last_task_at=?
		WHERE id=?`,
		st.XP, st.Level, st.TotalTasksDone, st.CurrentStreak, st.LongestStreak,
		string(badges), nullTime(st.LastTaskAt), id,
	)
	if err != nil {
		return fmt.Errorf("update agent stats: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("agent %s: %w", id, agent.ErrNotFound)
	}
	return nil
}

// Heartbeat records liveness and marks the agent active.
func (s *AgentStore) Heartbeat(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE agents SET last_seen=?, status=? WHERE id=?`,
		at, string(agent.StatusActive), id)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("agent %s: %w", id, agent.ErrNotFound)
	}
	return nil
}

// List returns all agents, highest XP first.
func (s *AgentStore) List() ([]*agent.Agent, error) {
	rows, err := s.db.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY xp DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func scanAgent(sc scanner) (*agent.Agent, error) {
	var a agent.Agent
	var status, capabilitiesJSON, badgesJSON string
	var lastSeen, lastTaskAt sql.NullTime

	err := sc.Scan(
		&a.ID, &a.Name, &a.Type, &a.Description, &capabilitiesJSON, &status, &lastSeen,
		&a.XP, &a.Level, &a.TotalTasksDone, &a.CurrentStreak, &a.LongestStreak,
		&badgesJSON, &lastTaskAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = agent.Status(status)
	_ = json.Unmarshal([]byte(capabilitiesJSON), &a.Capabilities)
	_ = json.Unmarshal([]byte(badgesJSON), &a.Badges)
	a.LastSeen = timePtr(lastSeen)
	a.LastTaskAt = timePtr(lastTaskAt)
	return &a, nil
}
