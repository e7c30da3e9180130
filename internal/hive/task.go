package hive

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskPriority orders tasks and picks the default deadline window.
type TaskPriority int

const (
	PriorityLow TaskPriority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// ParsePriority maps a priority name to its value. Unknown names get
// PriorityMedium.
func ParsePriority(s string) TaskPriority {
	switch s {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// DefaultDeadline is the execution window granted when the submitter does
// not supply one.
func (p TaskPriority) DefaultDeadline() time.Duration {
	switch p {
	case PriorityCritical:
		return 5 * time.Second
	case PriorityHigh:
		return 30 * time.Second
	case PriorityMedium:
		return 2 * time.Minute
	default:
		return 5 * time.Minute
	}
}

// TaskStatus is the task lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal tasks are never
// mutated again.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is one unit of delegable work.
type Task struct {
	ID                   uuid.UUID       `json:"id"`
	Type                 string          `json:"type"`
	Priority             TaskPriority    `json:"priority"`
	Status               TaskStatus      `json:"status"`
	AssignedAgent        uuid.UUID       `json:"assigned_agent,omitzero"`
	CreatedAt            time.Time       `json:"created_at"`
	Deadline             time.Time       `json:"deadline"`
	Payload              json.RawMessage `json:"payload"`
	RequiredCapabilities []Capability    `json:"required_capabilities,omitempty"`
	PreferredType        AgentType       `json:"preferred_type,omitempty"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	Retries              int             `json:"retries"`
	MaxRetries           int             `json:"max_retries"`
}

// NewTask creates a pending task. A zero deadline gets the priority's
// default window.
func NewTask(taskType string, priority TaskPriority, payload json.RawMessage, caps []Capability, deadline time.Time) *Task {
	now := time.Now()
	if deadline.IsZero() {
		deadline = now.Add(priority.DefaultDeadline())
	}
	return &Task{
		ID:                   uuid.New(),
		Type:                 taskType,
		Priority:             priority,
		Status:               TaskPending,
		CreatedAt:            now,
		Deadline:             deadline,
		Payload:              payload,
		RequiredCapabilities: caps,
		MaxRetries:           3,
	}
}

// Expired reports whether the deadline has passed.
func (t *Task) Expired(now time.Time) bool {
	return now.After(t.Deadline)
}

// CanRetry reports whether another delegation attempt is allowed.
func (t *Task) CanRetry() bool {
	return t.Retries < t.MaxRetries
}

// TaskResult is an agent's reply for one task. A result carrying judgments
// is a judgment set and goes through decision synthesis; a leaf result only
// carries output.
type TaskResult struct {
	TaskID      uuid.UUID       `json:"task_id"`
	AgentID     uuid.UUID       `json:"agent_id"`
	Success     bool            `json:"success"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Judgments   []Judgment      `json:"judgments,omitempty"`
	Embedding   []float32       `json:"embedding,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// OutcomeScore maps a result onto the [0,1] sample fed into the agent's
// performance EMA.
func (r *TaskResult) OutcomeScore() float64 {
	if r.Success {
		return 1.0
	}
	return 0.0
}
