package synth

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rojlabs/roj/internal/hive"
)

// Stats are running synthesis counters.
type Stats struct {
	TotalDecisions uint64            `json:"total_decisions"`
	HighConfidence uint64            `json:"high_confidence"`
	LowConfidence  uint64            `json:"low_confidence"`
	Vetoed         uint64            `json:"vetoed"`
	ByAction       map[string]uint64 `json:"by_action"`
	AverageTimeMs  float64           `json:"average_time_ms"`
}

// Synthesizer combines independent judgments for one task into a single
// decision.
type Synthesizer struct {
	mu    sync.Mutex
	roles hive.RoleTable
	stats Stats
}

func New(roles hive.RoleTable) *Synthesizer {
	return &Synthesizer{
		roles: roles,
		stats: Stats{ByAction: make(map[string]uint64)},
	}
}

// Synthesize produces the consensus decision for a judgment set.
//
// The weighted confidence uses each judgment's role weight over only the
// weights present in the set, so a single judgment still yields a valid
// value. A severe risk report from a veto-capable role forces Wait ahead
// of the sentiment vote. Otherwise the unweighted sentiment tally picks
// Proceed, Reject or Hold, ties resolving to Hold.
func (s *Synthesizer) Synthesize(taskID uuid.UUID, judgments []hive.Judgment) (*hive.Decision, error) {
	if len(judgments) == 0 {
		return nil, fmt.Errorf("synthesize task %s: %w", taskID, hive.ErrEmptyJudgmentSet)
	}
	start := time.Now()

	s.mu.Lock()
	roles := s.roles
	s.mu.Unlock()

	confidence, weights := weightedConfidence(roles, judgments)

	action := hive.ActionHold
	vetoed := false
	var reason string

	if vetoJudgment := findVeto(roles, judgments); vetoJudgment != nil {
		action = hive.ActionWait
		vetoed = true
		reason = fmt.Sprintf("veto: %s reported %s risk", vetoJudgment.AgentType, vetoJudgment.Risk)
	} else {
		var positive, negative int
		for _, j := range judgments {
			switch j.Sentiment {
			case hive.SentimentPositive:
				positive++
			case hive.SentimentNegative:
				negative++
			}
		}
		switch {
		case positive > negative:
			action = hive.ActionProceed
		case negative > positive:
			action = hive.ActionReject
		}
		reason = fmt.Sprintf("sentiment vote %d-%d across %d judgments", positive, negative, len(judgments))
	}

	decision := &hive.Decision{
		ID:         uuid.New(),
		TaskID:     taskID,
		Action:     action,
		Confidence: confidence,
		Level:      hive.BucketConfidence(confidence),
		Rationale: hive.Rationale{
			PrimaryReason:  reason,
			ConsensusLevel: consensusLevel(judgments, action),
			Weights:        weights,
			Vetoed:         vetoed,
		},
		CreatedAt: time.Now(),
	}

	s.record(decision, time.Since(start))
	slog.Info("decision synthesized", "task", taskID, "action", action, "confidence", fmt.Sprintf("%.3f", confidence), "vetoed", vetoed)
	return decision, nil
}

// UpdateRoles swaps the role table used for weighting and veto checks.
func (s *Synthesizer) UpdateRoles(roles hive.RoleTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = roles
}

// Stats returns a copy of the running counters.
func (s *Synthesizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.stats
	out.ByAction = make(map[string]uint64, len(s.stats.ByAction))
	for k, v := range s.stats.ByAction {
		out.ByAction[k] = v
	}
	return out
}

// weightedConfidence computes Σ(confidence·weight)/Σ(weight) over the
// judgments present, and the per-type weight breakdown for the rationale.
// Unknown agent types fall back to the documented default weight.
func weightedConfidence(roles hive.RoleTable, judgments []hive.Judgment) (float64, map[hive.AgentType]float64) {
	var weightedSum, totalWeight float64
	weights := make(map[hive.AgentType]float64, len(judgments))
	for _, j := range judgments {
		w := roles.WeightOf(j.AgentType)
		weights[j.AgentType] = w
		weightedSum += j.Confidence * w
		totalWeight += w
	}
	return weightedSum / totalWeight, weights
}

// findVeto returns the first severe-risk judgment from a veto-capable role.
func findVeto(roles hive.RoleTable, judgments []hive.Judgment) *hive.Judgment {
	for i, j := range judgments {
		if roles[j.AgentType].CanVeto && j.Risk.Severe() {
			return &judgments[i]
		}
	}
	return nil
}

// consensusLevel is the fraction of judgments whose sentiment agrees with
// the chosen action.
func consensusLevel(judgments []hive.Judgment, action hive.DecisionAction) float64 {
	var want hive.Sentiment
	switch action {
	case hive.ActionProceed:
		want = hive.SentimentPositive
	case hive.ActionReject:
		want = hive.SentimentNegative
	default:
		want = hive.SentimentNeutral
	}
	agree := 0
	for _, j := range judgments {
		if j.Sentiment == want {
			agree++
		}
	}
	return float64(agree) / float64(len(judgments))
}

func (s *Synthesizer) record(d *hive.Decision, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalDecisions++
	if d.Confidence >= 0.7 {
		s.stats.HighConfidence++
	} else {
		s.stats.LowConfidence++
	}
	if d.Rationale.Vetoed {
		s.stats.Vetoed++
	}
	s.stats.ByAction[string(d.Action)]++

	n := float64(s.stats.TotalDecisions)
	ms := float64(elapsed.Microseconds()) / 1000.0
	s.stats.AverageTimeMs = (s.stats.AverageTimeMs*(n-1) + ms) / n
}
