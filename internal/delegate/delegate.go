package delegate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rojlabs/roj/internal/hive"
	"github.com/rojlabs/roj/internal/registry"
)

// Strategy selects the candidate ordering used for agent matching.
type Strategy string

const (
	// BestAvailable is the default: least loaded first, performance as
	// tie-break.
	BestAvailable Strategy = "best_available"
	// LoadBalanced orders purely the same way; it exists so callers can
	// state intent explicitly.
	LoadBalanced Strategy = "load_balanced"
	// SpecializationBased pins the search to the task's preferred agent
	// type before ranking by load.
	SpecializationBased Strategy = "specialization_based"
	// PerformanceBased prefers the highest scoring agent, load as
	// tie-break.
	PerformanceBased Strategy = "performance_based"
)

func (s Strategy) rank() registry.RankLess {
	if s == PerformanceBased {
		return registry.ByPerformance
	}
	return registry.ByLoad
}

// Assignment records one successful delegation.
type Assignment struct {
	TaskID       uuid.UUID         `json:"task_id"`
	AgentID      uuid.UUID         `json:"agent_id"`
	Capabilities []hive.Capability `json:"capabilities,omitempty"`
	Deadline     time.Time         `json:"deadline"`
	Strategy     Strategy          `json:"strategy"`
	DelegatedAt  time.Time         `json:"delegated_at"`
}

// Stats are the delegator's running counters. They are advisory; nothing
// reads them with consistency requirements.
type Stats struct {
	Total          uint64  `json:"total"`
	Successful     uint64  `json:"successful"`
	Failed         uint64  `json:"failed"`
	AverageLatency float64 `json:"average_latency_ms"`
}

// Delegator matches tasks to agents. It is a pure function of current
// registry state: it owns no task state, so a failed delegation can be
// retried by the caller with no cleanup here.
type Delegator struct {
	reg *registry.Registry

	mu    sync.Mutex
	stats Stats
}

func New(reg *registry.Registry) *Delegator {
	return &Delegator{reg: reg}
}

// Delegate selects the best eligible agent for the task and books the slot.
// NoEligibleAgentError propagates unchanged; it is expected and retryable.
func (d *Delegator) Delegate(task *hive.Task, strategy Strategy) (*Assignment, error) {
	if strategy == "" {
		strategy = BestAvailable
	}
	start := time.Now()

	preferred := task.PreferredType
	if strategy == SpecializationBased && preferred == "" {
		preferred = preferredTypeFor(task.RequiredCapabilities)
	}

	agentID, err := d.reg.FindBestAgent(task.Type, task.RequiredCapabilities, preferred, strategy.rank())
	if err != nil {
		d.record(start, false)
		slog.Warn("delegation found no agent", "task", task.ID, "type", task.Type, "error", err)
		return nil, err
	}

	if err := d.reg.AssignTask(agentID, task.ID); err != nil {
		// The agent vanished between selection and booking; surface it as
		// a retryable miss.
		d.record(start, false)
		return nil, &hive.NoEligibleAgentError{TaskType: task.Type, Required: task.RequiredCapabilities, Preferred: preferred}
	}

	d.record(start, true)
	return &Assignment{
		TaskID:       task.ID,
		AgentID:      agentID,
		Capabilities: task.RequiredCapabilities,
		Deadline:     task.Deadline,
		Strategy:     strategy,
		DelegatedAt:  time.Now(),
	}, nil
}

// Stats returns a copy of the running counters.
func (d *Delegator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Delegator) record(start time.Time, ok bool) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Total++
	if ok {
		d.stats.Successful++
	} else {
		d.stats.Failed++
	}
	n := float64(d.stats.Total)
	d.stats.AverageLatency = (d.stats.AverageLatency*(n-1) + elapsed) / n
}

// preferredTypeFor maps a capability profile to the role that specializes
// in it. Ambiguous profiles return no preference.
func preferredTypeFor(caps []hive.Capability) hive.AgentType {
	votes := map[hive.AgentType]int{}
	for _, c := range caps {
		switch c {
		case hive.CapDecisionMaking, hive.CapLearning:
			votes[hive.Strateg]++
		case hive.CapSentimentAnalysis:
			votes[hive.Analityk]++
		case hive.CapMathematicalModeling, hive.CapPerformanceOptimization:
			votes[hive.Quant]++
		case hive.CapSecurityMonitoring, hive.CapAnomalyDetection, hive.CapRiskAssessment:
			votes[hive.Nadzorca]++
		}
	}
	var best hive.AgentType
	bestVotes := 0
	tie := false
	for t, v := range votes {
		switch {
		case v > bestVotes:
			best, bestVotes, tie = t, v, false
		case v == bestVotes:
			tie = true
		}
	}
	if tie || bestVotes == 0 {
		return ""
	}
	return best
}
