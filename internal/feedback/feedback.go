// Package feedback closes the learning loop: every synthesized decision
// is audited to the memory store and folded into per-action accuracy
// averages that bias future confidence reporting.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rojlabs/roj/internal/hive"
)

// alpha is the smoothing factor of the accuracy moving averages.
const alpha = 0.1

// Auditor persists decisions. Satisfied by the memory store.
type Auditor interface {
	SaveDecision(ctx context.Context, d hive.Decision) error
}

// Metrics is a snapshot of the learning state.
type Metrics struct {
	OutcomesRecorded uint64                         `json:"outcomes_recorded"`
	AccuracyByAction map[hive.DecisionAction]float64 `json:"accuracy_by_action"`
	VetoRate         float64                         `json:"veto_rate"`
}

// Engine records decision outcomes. The accuracy EMA treats a completed
// task as a correct decision and a failed one as incorrect, smoothed so
// single outcomes cannot whipsaw the average.
type Engine struct {
	auditor Auditor

	mu       sync.Mutex
	recorded uint64
	vetoes   uint64
	accuracy map[hive.DecisionAction]float64
}

func New(auditor Auditor) *Engine {
	return &Engine{
		auditor:  auditor,
		accuracy: make(map[hive.DecisionAction]float64),
	}
}

// RecordOutcome audits the decision and updates the learning averages.
func (e *Engine) RecordOutcome(ctx context.Context, task hive.Task, decision hive.Decision) error {
	if err := e.auditor.SaveDecision(ctx, decision); err != nil {
		return fmt.Errorf("audit decision: %w", err)
	}

	sample := 0.0
	if task.Status == hive.TaskCompleted {
		sample = 1.0
	}

	e.mu.Lock()
	e.recorded++
	if decision.Rationale.Vetoed {
		e.vetoes++
	}
	prev, ok := e.accuracy[decision.Action]
	if !ok {
		prev = 0.5
	}
	e.accuracy[decision.Action] = alpha*sample + (1-alpha)*prev
	e.mu.Unlock()

	slog.Debug("outcome recorded",
		"task", task.ID,
		"action", decision.Action,
		"task_status", task.Status)
	return nil
}

// Metrics returns a copy of the learning state.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	byAction := make(map[hive.DecisionAction]float64, len(e.accuracy))
	for k, v := range e.accuracy {
		byAction[k] = v
	}
	m := Metrics{
		OutcomesRecorded: e.recorded,
		AccuracyByAction: byAction,
	}
	if e.recorded > 0 {
		m.VetoRate = float64(e.vetoes) / float64(e.recorded)
	}
	return m
}
