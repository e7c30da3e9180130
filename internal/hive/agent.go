package hive

import (
	"time"

	"github.com/google/uuid"
)

// AgentType is the closed set of worker roles in the hive.
type AgentType string

const (
	Strateg  AgentType = "strateg"
	Analityk AgentType = "analityk"
	Quant    AgentType = "quant"
	Nadzorca AgentType = "nadzorca"
)

func (t AgentType) Valid() bool {
	switch t {
	case Strateg, Analityk, Quant, Nadzorca:
		return true
	}
	return false
}

// AgentStatus tracks an agent's availability in the registry.
type AgentStatus string

const (
	StatusActive      AgentStatus = "active"
	StatusBusy        AgentStatus = "busy"
	StatusInactive    AgentStatus = "inactive"
	StatusMaintenance AgentStatus = "maintenance"
	StatusShutdown    AgentStatus = "shutdown"
)

// Capability is a tag an agent declares it can serve.
type Capability string

const (
	CapAnalysis                Capability = "Analysis"
	CapDecisionMaking          Capability = "DecisionMaking"
	CapCommunication           Capability = "Communication"
	CapLearning                Capability = "Learning"
	CapSecurityMonitoring      Capability = "SecurityMonitoring"
	CapPerformanceOptimization Capability = "PerformanceOptimization"
	CapRiskManagement          Capability = "RiskManagement"
	CapRiskAssessment          Capability = "RiskAssessment"
	CapSentimentAnalysis       Capability = "SentimentAnalysis"
	CapMathematicalModeling    Capability = "MathematicalModeling"
	CapAnomalyDetection        Capability = "AnomalyDetection"
)

// AgentInfo is the registry's record for one worker agent.
type AgentInfo struct {
	ID               uuid.UUID    `json:"id"`
	Type             AgentType    `json:"type"`
	Status           AgentStatus  `json:"status"`
	Capabilities     []Capability `json:"capabilities"`
	Endpoint         string       `json:"endpoint,omitempty"`
	LastHeartbeat    time.Time    `json:"last_heartbeat"`
	PerformanceScore float64      `json:"performance_score"`
	CurrentTasks     []uuid.UUID  `json:"current_tasks"`
	RegisteredAt     time.Time    `json:"registered_at"`
}

// NewAgentInfo creates a freshly registered agent. New agents start Active
// with a neutral performance score.
func NewAgentInfo(t AgentType, caps []Capability, endpoint string) *AgentInfo {
	now := time.Now()
	return &AgentInfo{
		ID:               uuid.New(),
		Type:             t,
		Status:           StatusActive,
		Capabilities:     caps,
		Endpoint:         endpoint,
		LastHeartbeat:    now,
		PerformanceScore: 0.5,
		RegisteredAt:     now,
	}
}

// HasCapabilities reports whether the agent declares every required tag.
func (a *AgentInfo) HasCapabilities(required []Capability) bool {
	for _, req := range required {
		found := false
		for _, c := range a.Capabilities {
			if c == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Available reports whether the agent may receive new work: Active or Busy
// (an agent with spare slots keeps accepting), never Inactive, Maintenance
// or Shutdown.
func (a *AgentInfo) Available() bool {
	return a.Status == StatusActive || a.Status == StatusBusy
}

// CanAccept reports whether the agent is eligible for a task with the given
// capability requirements under the role's concurrency cap.
func (a *AgentInfo) CanAccept(required []Capability, maxTasks int) bool {
	if !a.Available() {
		return false
	}
	if len(a.CurrentTasks) >= maxTasks {
		return false
	}
	return a.HasCapabilities(required)
}

// Touch records a heartbeat. An inactive agent comes back Active; activity
// never changes any other status.
func (a *AgentInfo) Touch(now time.Time) {
	a.LastHeartbeat = now
	if a.Status == StatusInactive {
		a.Status = StatusActive
		a.refreshBusy()
	}
}

// Overdue reports whether the agent missed its heartbeat window.
func (a *AgentInfo) Overdue(now time.Time, timeout time.Duration) bool {
	return now.Sub(a.LastHeartbeat) > timeout
}

// Assign adds a task to the agent's working set.
func (a *AgentInfo) Assign(taskID uuid.UUID) {
	a.CurrentTasks = append(a.CurrentTasks, taskID)
	a.refreshBusy()
}

// Release removes a task from the agent's working set. Unknown ids are a
// no-op so completion and deadline expiry can race safely.
func (a *AgentInfo) Release(taskID uuid.UUID) {
	kept := a.CurrentTasks[:0]
	for _, id := range a.CurrentTasks {
		if id != taskID {
			kept = append(kept, id)
		}
	}
	a.CurrentTasks = kept
	a.refreshBusy()
}

// Score folds a task outcome sample into the exponential moving average.
func (a *AgentInfo) Score(sample, alpha float64) {
	a.PerformanceScore = alpha*sample + (1-alpha)*a.PerformanceScore
}

// refreshBusy keeps the Active/Busy pair consistent with the working set.
// Inactive, Maintenance and Shutdown are left alone.
func (a *AgentInfo) refreshBusy() {
	switch a.Status {
	case StatusActive, StatusBusy:
		if len(a.CurrentTasks) > 0 {
			a.Status = StatusBusy
		} else {
			a.Status = StatusActive
		}
	}
}
