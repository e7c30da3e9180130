package swarm

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rojlabs/roj/internal/delegate"
	"github.com/rojlabs/roj/internal/hive"
	"github.com/rojlabs/roj/internal/metrics"
	"github.com/rojlabs/roj/internal/registry"
	"github.com/rojlabs/roj/internal/synth"
)

// State is the coordinator-owned lifecycle state of the whole swarm.
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateDegraded     State = "degraded"
	StateMaintenance  State = "maintenance"
	StateShutdown     State = "shutdown"
)

// validTransitions encodes the lifecycle machine. Anything absent here is
// rejected.
var validTransitions = map[State][]State{
	StateInitializing: {StateActive, StateShutdown},
	StateActive:       {StateDegraded, StateMaintenance, StateShutdown},
	StateDegraded:     {StateActive, StateShutdown},
	StateMaintenance:  {StateActive, StateShutdown},
	StateShutdown:     {},
}

func (s State) canTransition(to State) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transport is the agent-facing dispatch collaborator. SendAssignment is
// fire-and-forget; replies come back through ReceiveTaskResult.
type Transport interface {
	SendAssignment(ctx context.Context, agentID uuid.UUID, task hive.Task) error
	SendHeartbeatAck(ctx context.Context, agentID uuid.UUID) error
}

// Memory is the persistent memory collaborator. The coordinator never
// depends on its storage medium; it only stores results, the similarity
// query is served straight off the store by the web API.
type Memory interface {
	Store(ctx context.Context, taskID uuid.UUID, result hive.TaskResult) error
}

// Feedback is the learning collaborator. RecordOutcome is fire-and-forget;
// its failures are logged, never escalated.
type Feedback interface {
	RecordOutcome(ctx context.Context, task hive.Task, decision hive.Decision) error
}

// Event is a coordinator lifecycle notification for observers.
type Event struct {
	Type string         `json:"type"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data,omitempty"`
}

// EventSink receives events. It must not block.
type EventSink func(Event)

// Config tunes the coordinator's loops and timeouts.
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	DeadlineInterval  time.Duration
	MemoryTimeout     time.Duration
	ShutdownTimeout   time.Duration
	QueueSize         int
	// DegradedThreshold is the inactive-agent fraction above which the
	// swarm reports Degraded.
	DegradedThreshold float64
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  5 * time.Second,
		DeadlineInterval:  time.Second,
		MemoryTimeout:     5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		QueueSize:         256,
		DegradedThreshold: 0.5,
	}
}

// Metrics is the pull-based observability snapshot exposed by the
// coordinator.
type Metrics struct {
	State       State             `json:"state"`
	Agents      registry.Stats    `json:"agents"`
	ActiveTasks int               `json:"active_tasks"`
	QueuedTasks int               `json:"queued_tasks"`
	Counters    metrics.Snapshot  `json:"counters"`
	Delegation  delegate.Stats    `json:"delegation"`
	Synthesis   synth.Stats       `json:"synthesis"`
}
