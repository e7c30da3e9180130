package hive

import (
	"errors"
	"fmt"
)

var (
	// ErrAgentNotFound marks operations against an unknown agent id.
	// Benign for heartbeats: the caller logs and moves on.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrEmptyJudgmentSet marks a synthesis request with no judgments.
	// Fatal to that task only, never defaulted to a zero decision.
	ErrEmptyJudgmentSet = errors.New("empty judgment set")

	// ErrInvalidTask marks a submission with a past deadline or no payload.
	ErrInvalidTask = errors.New("invalid task")
)

// Task failure reasons surfaced in Task.FailureReason.
const (
	ReasonDeadlineExceeded   = "deadline_exceeded"
	ReasonMemoryStoreTimeout = "memory_store_timeout"
	ReasonMemoryStoreFailed  = "memory_store_failed"
	ReasonSynthesisFailed    = "synthesis_failed"
	ReasonCancelled          = "shutdown_cancelled"
)

// CapacityError reports a registration rejected by a role's instance cap.
type CapacityError struct {
	Type  AgentType
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded: %d %s agents already registered", e.Limit, e.Type)
}

// NoEligibleAgentError reports that delegation found no candidate. This is
// an expected, retryable condition; it carries the request so operators can
// see why matching failed.
type NoEligibleAgentError struct {
	TaskType  string
	Required  []Capability
	Preferred AgentType
}

func (e *NoEligibleAgentError) Error() string {
	if e.Preferred != "" {
		return fmt.Sprintf("no eligible agent for task %q (capabilities %v, preferred %s)", e.TaskType, e.Required, e.Preferred)
	}
	return fmt.Sprintf("no eligible agent for task %q (capabilities %v)", e.TaskType, e.Required)
}

// IsNoEligibleAgent reports whether err is a NoEligibleAgentError.
func IsNoEligibleAgent(err error) bool {
	var e *NoEligibleAgentError
	return errors.As(err, &e)
}
