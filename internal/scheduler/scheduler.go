package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rojlabs/roj/internal/config"
	"github.com/rojlabs/roj/internal/hive"
	"github.com/rojlabs/roj/internal/memstore"
)

// Submitter accepts due work. Satisfied by the swarm coordinator.
type Submitter interface {
	Submit(taskType string, priority hive.TaskPriority, payload json.RawMessage, deadline time.Time, caps []hive.Capability, preferred hive.AgentType) (uuid.UUID, error)
}

// Scheduler polls the stored recurring submissions and feeds due ones
// into the swarm.
type Scheduler struct {
	store        *memstore.Store
	submitter    Submitter
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *memstore.Store, submitter Submitter, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		submitter:    submitter,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig changes the poll interval and signals the run loop to
// reset its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.pollInterval = pollInterval
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler config reloaded", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Scheduler) poll() {
	subs, err := s.store.GetDueSubmissions(time.Now())
	if err != nil {
		slog.Error("failed to get due submissions", "error", err)
		return
	}

	for _, sub := range subs {
		s.execute(sub)
	}
}

func (s *Scheduler) execute(sub memstore.ScheduledSubmission) {
	slog.Info("executing scheduled submission", "id", sub.ID, "name", sub.Name, "task_type", sub.TaskType)

	_, err := s.submitter.Submit(sub.TaskType, sub.Priority, json.RawMessage(sub.Payload),
		time.Time{}, ParseCapabilities(sub.Capabilities), "")

	var lastStatus, lastError string
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("submission failed", "id", sub.ID, "error", err)
	} else {
		lastStatus = "success"
	}

	nextRun := CalculateNextRun(sub.Schedule)

	if err := s.store.UpdateSubmissionRun(sub.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update submission run", "id", sub.ID, "error", err)
	}

	// Mark one-off submissions as completed when they have no next run
	if nextRun == nil {
		slog.Info("no next run, marking one-off submission as completed", "id", sub.ID, "name", sub.Name)
		if err := s.store.UpdateSubmissionStatus(sub.ID, "completed"); err != nil {
			slog.Error("failed to complete submission", "id", sub.ID, "error", err)
		}
	}
}

// ParseCapabilities splits a stored comma-separated capability list.
func ParseCapabilities(raw string) []hive.Capability {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	caps := make([]hive.Capability, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			caps = append(caps, hive.Capability(p))
		}
	}
	return caps
}
