package scheduler

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rojlabs/roj/internal/config"
	"github.com/rojlabs/roj/internal/hive"
	"github.com/rojlabs/roj/internal/memstore"
)

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []string
}

func (f *fakeSubmitter) Submit(taskType string, _ hive.TaskPriority, _ json.RawMessage, _ time.Time, _ []hive.Capability, _ hive.AgentType) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, taskType)
	return uuid.New(), nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *memstore.Store, *fakeSubmitter) {
	t.Helper()
	st, err := memstore.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sub := &fakeSubmitter{}
	sched := New(st, sub, config.SchedulerConfig{PollInterval: 10 * time.Millisecond})
	return sched, st, sub
}

func TestNormalizeSchedule(t *testing.T) {
	// Plain cron gets wrapped.
	got, err := NormalizeSchedule("*/5 * * * *")
	if err != nil {
		t.Fatalf("normalize cron: %v", err)
	}
	s, err := ParseSchedule(got)
	if err != nil {
		t.Fatalf("parse normalized: %v", err)
	}
	if s.Kind != "cron" || s.CronExpr != "*/5 * * * *" {
		t.Errorf("normalized = %+v", s)
	}

	// Valid JSON passes through.
	raw := `{"kind":"interval","interval_ms":60000}`
	got, err = NormalizeSchedule(raw)
	if err != nil {
		t.Fatalf("normalize json: %v", err)
	}
	if got != raw {
		t.Errorf("got %s, want passthrough", got)
	}

	// Garbage is rejected.
	if _, err := NormalizeSchedule("not a schedule"); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if _, err := NormalizeSchedule(`{"kind":"interval","interval_ms":0}`); err == nil {
		t.Error("expected error for zero interval")
	}
	if _, err := NormalizeSchedule(`{"kind":"banana"}`); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestCalculateNextRun(t *testing.T) {
	// Interval schedules land roughly interval from now.
	next := CalculateNextRun(`{"kind":"interval","interval_ms":60000}`)
	if next == nil {
		t.Fatal("expected next run for interval")
	}
	diff := time.Until(*next)
	if diff < 50*time.Second || diff > 70*time.Second {
		t.Errorf("next run in %s, want ~1m", diff)
	}

	// A once schedule in the past has no next run.
	past := time.Now().Add(-time.Hour).UnixMilli()
	if next := CalculateNextRun(`{"kind":"once","at_ms":` + jsonInt(past) + `}`); next != nil {
		t.Error("expected nil for past once schedule")
	}

	// Cron always has a next tick.
	if next := CalculateNextRun(`{"kind":"cron","cron_expr":"* * * * *"}`); next == nil {
		t.Error("expected next run for cron")
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestParseCapabilities(t *testing.T) {
	caps := ParseCapabilities("analysis, risk_assessment")
	if len(caps) != 2 || caps[0] != hive.CapAnalysis || caps[1] != hive.CapRiskAssessment {
		t.Errorf("caps = %v", caps)
	}
	if caps := ParseCapabilities(""); caps != nil {
		t.Errorf("empty input gave %v", caps)
	}
}

func TestDueSubmissionIsSubmitted(t *testing.T) {
	sched, st, sub := newTestScheduler(t)

	past := time.Now().Add(-time.Minute)
	err := st.SaveSubmission(&memstore.ScheduledSubmission{
		ID:        "scan",
		Name:      "scan",
		Schedule:  `{"kind":"interval","interval_ms":60000}`,
		TaskType:  "market_analysis",
		Priority:  hive.PriorityMedium,
		Payload:   `{}`,
		Status:    "active",
		NextRunAt: &past,
	})
	if err != nil {
		t.Fatalf("save submission: %v", err)
	}

	sched.poll()

	sub.mu.Lock()
	n := len(sub.submitted)
	sub.mu.Unlock()
	if n != 1 {
		t.Fatalf("submitted = %d, want 1", n)
	}

	// The run was recorded and the next run pushed forward.
	got, err := st.GetSubmission("scan")
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if got.LastStatus != "success" {
		t.Errorf("last status = %s", got.LastStatus)
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Errorf("next run not advanced: %v", got.NextRunAt)
	}
}

func TestOneOffSubmissionCompletes(t *testing.T) {
	sched, st, sub := newTestScheduler(t)

	past := time.Now().Add(-time.Minute)
	atPast := time.Now().Add(-time.Second).UnixMilli()
	err := st.SaveSubmission(&memstore.ScheduledSubmission{
		ID:        "oneoff",
		Name:      "oneoff",
		Schedule:  `{"kind":"once","at_ms":` + jsonInt(atPast) + `}`,
		TaskType:  "rebalance",
		Priority:  hive.PriorityHigh,
		Payload:   `{}`,
		Status:    "active",
		NextRunAt: &past,
	})
	if err != nil {
		t.Fatalf("save submission: %v", err)
	}

	sched.poll()

	sub.mu.Lock()
	n := len(sub.submitted)
	sub.mu.Unlock()
	if n != 1 {
		t.Fatalf("submitted = %d, want 1", n)
	}

	got, err := st.GetSubmission("oneoff")
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("status = %s, want completed", got.Status)
	}
}
