package task_test

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/opsdeck/dispatch/activity"
	"github.com/opsdeck/dispatch/agent"
	"github.com/opsdeck/dispatch/events"
	"github.com/opsdeck/dispatch/gamify"
	"github.com/opsdeck/dispatch/store"
	"github.com/opsdeck/dispatch/task"
)

func newTestEnv(t *testing.T) (*task.Manager, *store.SQLite) {
	t.Helper()
	f, err := os.CreateTemp("", "dispatch-lifecycle-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	m := task.NewManager(db.Tasks(), db.Agents(), logger)
	m.SetActivityLog(db.Activity())
	return m, db
}

func createTask(t *testing.T, m *task.Manager, req task.CreateRequest) *task.Task {
	t.Helper()
	if req.Type == "" {
		req.Type = task.TypeCode
	}
	if req.Description == "" {
		req.Description = "fix the flaky deploy check"
	}
	created, err := m.Create(req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return created
}

func TestCreate_Defaults(t *testing.T) {
	m, _ := newTestEnv(t)

	created := createTask(t, m, task.CreateRequest{Type: task.TypePost, Description: "write launch post"})
	if created.Status != task.StatusPending {
		t.Errorf("Status = %s, want pending", created.Status)
	}
	if created.Priority != task.PriorityNormal {
		t.Errorf("Priority = %s, want normal default", created.Priority)
	}
	if created.CreatedBy != task.DefaultCreatedBy {
		t.Errorf("CreatedBy = %s, want %s", created.CreatedBy, task.DefaultCreatedBy)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Errorf("missing id or created_at: %+v", created)
	}
}

func TestCreate_Validation(t *testing.T) {
	m, _ := newTestEnv(t)

	cases := []struct {
		name  string
		req   task.CreateRequest
		field string
	}{
		{"missing type", task.CreateRequest{Description: "d"}, "type"},
		{"invalid type", task.CreateRequest{Type: "refactor", Description: "d"}, "type"},
		{"missing description", task.CreateRequest{Type: task.TypeCode}, "description"},
		{"invalid priority", task.CreateRequest{Type: task.TypeCode, Description: "d", Priority: "critical"}, "priority"},
		{"invalid target type", task.CreateRequest{Type: task.TypeCode, Description: "d", TargetType: "cluster"}, "target_type"},
		{"invalid source dashboard", task.CreateRequest{Type: task.TypeCode, Description: "d", SourceDashboard: "billing"}, "source_dashboard"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := m.Create(c.req)
			var ve *task.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != c.field {
				t.Errorf("Field = %s, want %s", ve.Field, c.field)
			}
		})
	}
}

// Full lifecycle: pending, claimed, in_progress, done, with XP awarded to
// the assignee at the end.
func TestLifecycle_HappyPath(t *testing.T) {
	m, db := newTestEnv(t)
	if err := db.Agents().Upsert(&agent.Agent{ID: "builder", Name: "builder"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	created := createTask(t, m, task.CreateRequest{})

	ok, err := m.Claim(created.ID, "builder")
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	ok, err = m.Start(created.ID)
	if err != nil || !ok {
		t.Fatalf("Start = %v, %v", ok, err)
	}
	ok, err = m.Complete(created.ID, "merged in #1423")
	if err != nil || !ok {
		t.Fatalf("Complete = %v, %v", ok, err)
	}

	got, err := m.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusDone {
		t.Errorf("Status = %s, want done", got.Status)
	}
	if got.Result != "merged in #1423" {
		t.Errorf("Result = %q", got.Result)
	}
	if got.Error != "" {
		t.Errorf("Error = %q, want empty on success", got.Error)
	}
	if got.ClaimedAt == nil || got.StartedAt == nil || got.CompletedAt == nil {
		t.Errorf("missing lifecycle timestamps: %+v", got)
	}

	ag, err := db.Agents().Get("builder")
	if err != nil {
		t.Fatalf("Get agent: %v", err)
	}
	if ag.XP != gamify.DefaultAward {
		t.Errorf("XP = %d, want %d", ag.XP, gamify.DefaultAward)
	}
	if ag.TotalTasksDone != 1 || ag.CurrentStreak != 1 {
		t.Errorf("tasks=%d streak=%d, want 1 and 1", ag.TotalTasksDone, ag.CurrentStreak)
	}
}

func TestClaim_SecondClaimerLoses(t *testing.T) {
	m, _ := newTestEnv(t)
	created := createTask(t, m, task.CreateRequest{})

	ok, err := m.Claim(created.ID, "first")
	if err != nil || !ok {
		t.Fatalf("first Claim = %v, %v", ok, err)
	}
	ok, err = m.Claim(created.ID, "second")
	if err != nil {
		t.Fatalf("second Claim errored: %v", err)
	}
	if ok {
		t.Fatal("second claim should be a no-op")
	}

	got, _ := m.Get(created.ID)
	if got.AssignedTo != "first" {
		t.Errorf("AssignedTo = %s, want first", got.AssignedTo)
	}
}

func TestClaim_ConcurrentExactlyOneWinner(t *testing.T) {
	m, _ := newTestEnv(t)
	created := createTask(t, m, task.CreateRequest{})

	const claimers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < claimers; i++ {
		name := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Claim(created.ID, name)
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestComplete_RequiresResult(t *testing.T) {
	m, _ := newTestEnv(t)
	created := createTask(t, m, task.CreateRequest{})
	if _, err := m.Claim(created.ID, "a"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	_, err := m.Complete(created.ID, "")
	var ve *task.ValidationError
	if !errors.As(err, &ve) || ve.Field != "result" {
		t.Errorf("err = %v, want result ValidationError", err)
	}

	got, _ := m.Get(created.ID)
	if got.Status != task.StatusClaimed {
		t.Errorf("Status = %s, want claimed unchanged", got.Status)
	}
}

func TestFail_RequiresError(t *testing.T) {
	m, _ := newTestEnv(t)
	created := createTask(t, m, task.CreateRequest{})

	_, err := m.Fail(created.ID, "")
	var ve *task.ValidationError
	if !errors.As(err, &ve) || ve.Field != "error" {
		t.Errorf("err = %v, want error ValidationError", err)
	}
}

func TestFail_FromAnyOpenState(t *testing.T) {
	m, _ := newTestEnv(t)

	// pending
	a := createTask(t, m, task.CreateRequest{})
	ok, err := m.Fail(a.ID, "agent crashed")
	if err != nil || !ok {
		t.Fatalf("Fail pending = %v, %v", ok, err)
	}

	// in_progress
	b := createTask(t, m, task.CreateRequest{})
	if _, err := m.Claim(b.ID, "w"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := m.Start(b.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ok, err = m.Fail(b.ID, "timeout")
	if err != nil || !ok {
		t.Fatalf("Fail in_progress = %v, %v", ok, err)
	}

	got, _ := m.Get(b.ID)
	if got.Status != task.StatusFailed || got.Error != "timeout" {
		t.Errorf("status=%s error=%q", got.Status, got.Error)
	}
	if got.Result != "" {
		t.Errorf("Result = %q, want empty on failure", got.Result)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set on failure")
	}
}

func TestStart_RequiresClaimed(t *testing.T) {
	m, _ := newTestEnv(t)
	created := createTask(t, m, task.CreateRequest{})

	ok, err := m.Start(created.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ok {
		t.Error("Start from pending should be a no-op")
	}
}

func TestCancel_OnlyOpenUnstartedStates(t *testing.T) {
	m, _ := newTestEnv(t)

	a := createTask(t, m, task.CreateRequest{})
	ok, err := m.Cancel(a.ID)
	if err != nil || !ok {
		t.Fatalf("Cancel pending = %v, %v", ok, err)
	}
	got, _ := m.Get(a.ID)
	if got.Status != task.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", got.Status)
	}
	if got.Result != "" || got.Error != "" {
		t.Errorf("cancelled task carries result=%q error=%q", got.Result, got.Error)
	}

	// in_progress tasks cannot be cancelled.
	b := createTask(t, m, task.CreateRequest{})
	if _, err := m.Claim(b.ID, "w"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := m.Start(b.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ok, err = m.Cancel(b.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Error("Cancel from in_progress should be a no-op")
	}
}

// Terminal tasks ignore every transition without error.
func TestTerminalStatesAreImmutable(t *testing.T) {
	m, _ := newTestEnv(t)

	created := createTask(t, m, task.CreateRequest{})
	if _, err := m.Claim(created.ID, "w"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := m.Complete(created.ID, "done"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	attempts := []struct {
		name string
		op   func() (bool, error)
	}{
		{"claim", func() (bool, error) { return m.Claim(created.ID, "other") }},
		{"start", func() (bool, error) { return m.Start(created.ID) }},
		{"complete", func() (bool, error) { return m.Complete(created.ID, "again") }},
		{"fail", func() (bool, error) { return m.Fail(created.ID, "late error") }},
		{"cancel", func() (bool, error) { return m.Cancel(created.ID) }},
	}
	for _, a := range attempts {
		ok, err := a.op()
		if err != nil {
			t.Errorf("%s on done task errored: %v", a.name, err)
		}
		if ok {
			t.Errorf("%s on done task applied, want no-op", a.name)
		}
	}

	got, _ := m.Get(created.ID)
	if got.Status != task.StatusDone || got.Result != "done" || got.Error != "" {
		t.Errorf("done task mutated: %+v", got)
	}
}

func TestComplete_UnregisteredAgentGetsRecord(t *testing.T) {
	m, db := newTestEnv(t)

	created := createTask(t, m, task.CreateRequest{})
	if _, err := m.Claim(created.ID, "drifter"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := m.Complete(created.ID, "ok"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	ag, err := db.Agents().Get("drifter")
	if err != nil {
		t.Fatalf("Get agent: %v", err)
	}
	if ag.XP != gamify.DefaultAward || ag.TotalTasksDone != 1 {
		t.Errorf("xp=%d tasks=%d, want award applied", ag.XP, ag.TotalTasksDone)
	}
}

func TestComplete_StreakAcrossDays(t *testing.T) {
	m, db := newTestEnv(t)
	if err := db.Agents().Upsert(&agent.Agent{ID: "steady"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	m.SetXPAward(25)

	day := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return day })

	for i := 0; i < 3; i++ {
		created := createTask(t, m, task.CreateRequest{})
		if _, err := m.Claim(created.ID, "steady"); err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if _, err := m.Complete(created.ID, "ok"); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		day = day.AddDate(0, 0, 1)
	}

	ag, err := db.Agents().Get("steady")
	if err != nil {
		t.Fatalf("Get agent: %v", err)
	}
	if ag.CurrentStreak != 3 || ag.LongestStreak != 3 {
		t.Errorf("streak=%d longest=%d, want 3 and 3", ag.CurrentStreak, ag.LongestStreak)
	}
	if ag.XP != 75 {
		t.Errorf("XP = %d, want 75 with configured award", ag.XP)
	}
	if ag.Level != 1 {
		t.Errorf("Level = %d, want 1", ag.Level)
	}
}

type failingActivity struct{}

func (failingActivity) Record(activity.Entry) error { return errors.New("disk full") }
func (failingActivity) Recent(int) ([]activity.Entry, error) {
	return nil, errors.New("disk full")
}

func TestActivityFailureDoesNotBreakLifecycle(t *testing.T) {
	m, _ := newTestEnv(t)
	m.SetActivityLog(failingActivity{})

	created := createTask(t, m, task.CreateRequest{})
	ok, err := m.Claim(created.ID, "w")
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v", ok, err)
	}
	ok, err = m.Complete(created.ID, "ok")
	if err != nil || !ok {
		t.Fatalf("Complete = %v, %v", ok, err)
	}
}

func TestActivityTrailRecorded(t *testing.T) {
	m, db := newTestEnv(t)

	created := createTask(t, m, task.CreateRequest{CreatedBy: "ops-dash"})
	if _, err := m.Claim(created.ID, "w"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := m.Complete(created.ID, "ok"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	entries, err := db.Activity().Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.Action] = true
	}
	for _, want := range []string{activity.ActionTaskCreated, activity.ActionTaskClaimed, activity.ActionTaskCompleted} {
		if !seen[want] {
			t.Errorf("missing %s entry in trail %v", want, entries)
		}
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	m, _ := newTestEnv(t)
	bus := events.NewInMemoryBus()
	m.SetBus(bus)

	created := createTask(t, m, task.CreateRequest{})
	if _, err := m.Claim(created.ID, "w"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := m.Start(created.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Complete(created.ID, "ok"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	hist, err := bus.History(10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []events.EventType{
		events.TypeTaskCreated, events.TypeTaskClaimed,
		events.TypeTaskStarted, events.TypeTaskCompleted,
	}
	if len(hist) != len(want) {
		t.Fatalf("History len = %d, want %d", len(hist), len(want))
	}
	for i, typ := range want {
		if hist[i].Type != typ {
			t.Errorf("hist[%d].Type = %s, want %s", i, hist[i].Type, typ)
		}
		if hist[i].TaskID != created.ID {
			t.Errorf("hist[%d].TaskID = %s, want %s", i, hist[i].TaskID, created.ID)
		}
	}
}

func TestNextAvailable_ValidatesType(t *testing.T) {
	m, _ := newTestEnv(t)
	_, err := m.NextAvailable("refactor")
	var ve *task.ValidationError
	if !errors.As(err, &ve) || ve.Field != "type" {
		t.Errorf("err = %v, want type ValidationError", err)
	}
}

func TestNextAvailable_EmptyQueue(t *testing.T) {
	m, _ := newTestEnv(t)
	_, err := m.NextAvailable(task.TypeCode)
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestQueryService_MultiStatusAndLimit(t *testing.T) {
	m, db := newTestEnv(t)
	q := task.NewQueryService(db.Tasks())

	var done, open []string
	for i := 0; i < 5; i++ {
		created := createTask(t, m, task.CreateRequest{})
		if i < 2 {
			if _, err := m.Claim(created.ID, "w"); err != nil {
				t.Fatalf("Claim: %v", err)
			}
			if _, err := m.Complete(created.ID, "ok"); err != nil {
				t.Fatalf("Complete: %v", err)
			}
			done = append(done, created.ID)
		} else {
			open = append(open, created.ID)
		}
	}

	got, err := q.List(task.Filter{Statuses: []task.Status{task.StatusPending, task.StatusDone}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != len(done)+len(open) {
		t.Errorf("List len = %d, want %d", len(got), len(done)+len(open))
	}

	limited, err := q.List(task.Filter{Statuses: []task.Status{task.StatusPending}, Limit: 2})
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("List limited len = %d, want 2", len(limited))
	}
	for _, got := range limited {
		if got.Status != task.StatusPending {
			t.Errorf("limited result has status %s", got.Status)
		}
	}
}
