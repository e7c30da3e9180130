package hive

import (
	"time"

	"github.com/google/uuid"
)

// Sentiment is a judgment's directional lean.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// RiskLevel is the structured risk field carried by guardian judgments.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Severe reports whether the level trips the veto gate.
func (r RiskLevel) Severe() bool {
	return r == RiskHigh || r == RiskCritical
}

// Judgment is one agent's opinion about a task.
type Judgment struct {
	AgentID    uuid.UUID `json:"agent_id"`
	AgentType  AgentType `json:"agent_type"`
	Confidence float64   `json:"confidence"`
	Sentiment  Sentiment `json:"sentiment"`
	Risk       RiskLevel `json:"risk,omitempty"`
	Reasoning  string    `json:"reasoning,omitempty"`
	At         time.Time `json:"at"`
}

// DecisionAction is the synthesized outcome.
type DecisionAction string

const (
	ActionProceed DecisionAction = "proceed"
	ActionHold    DecisionAction = "hold"
	ActionReject  DecisionAction = "reject"
	ActionWait    DecisionAction = "wait"
)

// ConfidenceLevel buckets the weighted confidence for operators.
type ConfidenceLevel string

const (
	ConfidenceVeryHigh ConfidenceLevel = "very_high"
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceMedium   ConfidenceLevel = "medium"
	ConfidenceLow      ConfidenceLevel = "low"
	ConfidenceVeryLow  ConfidenceLevel = "very_low"
)

// BucketConfidence maps a [0,1] value onto the five-level scale.
func BucketConfidence(v float64) ConfidenceLevel {
	switch {
	case v >= 0.9:
		return ConfidenceVeryHigh
	case v >= 0.7:
		return ConfidenceHigh
	case v >= 0.5:
		return ConfidenceMedium
	case v >= 0.3:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// Rationale explains a decision for auditing.
type Rationale struct {
	PrimaryReason  string                `json:"primary_reason"`
	ConsensusLevel float64               `json:"consensus_level"`
	Weights        map[AgentType]float64 `json:"weights"`
	Vetoed         bool                  `json:"vetoed,omitempty"`
}

// Decision is the immutable synthesized outcome for one judgment set.
type Decision struct {
	ID         uuid.UUID       `json:"id"`
	TaskID     uuid.UUID       `json:"task_id,omitzero"`
	Action     DecisionAction  `json:"action"`
	Confidence float64         `json:"confidence"`
	Level      ConfidenceLevel `json:"level"`
	Rationale  Rationale       `json:"rationale"`
	CreatedAt  time.Time       `json:"created_at"`
}
