package hive

import (
	"fmt"
	"math"
)

// RoleParams are the fixed per-role tuning knobs: decision weight in
// synthesis, concurrency cap per agent, instance cap in the registry, and
// whether the role may veto a decision.
type RoleParams struct {
	Weight       float64 `yaml:"weight" json:"weight"`
	MaxTasks     int     `yaml:"max_tasks" json:"max_tasks"`
	MaxInstances int     `yaml:"max_instances" json:"max_instances"`
	CanVeto      bool    `yaml:"can_veto" json:"can_veto"`
}

// RoleTable maps every agent type to its parameters.
type RoleTable map[AgentType]RoleParams

// DefaultWeight is used for judgments from an agent type missing from the
// table. Synthesis tolerates unknown types instead of failing outright.
const DefaultWeight = 0.25

// DefaultRoles returns the canonical role table.
func DefaultRoles() RoleTable {
	return RoleTable{
		Strateg:  {Weight: 0.40, MaxTasks: 10, MaxInstances: 1},
		Analityk: {Weight: 0.25, MaxTasks: 5, MaxInstances: 2},
		Quant:    {Weight: 0.30, MaxTasks: 8, MaxInstances: 3},
		Nadzorca: {Weight: 0.05, MaxTasks: 3, MaxInstances: 1, CanVeto: true},
	}
}

// Validate checks the table covers all four roles with sane parameters and
// weights summing to 1.0. A bad table is fatal at startup.
func (rt RoleTable) Validate() error {
	var sum float64
	for _, t := range []AgentType{Strateg, Analityk, Quant, Nadzorca} {
		p, ok := rt[t]
		if !ok {
			return fmt.Errorf("role table missing %s", t)
		}
		if p.Weight < 0 || p.Weight > 1 {
			return fmt.Errorf("role %s: weight %.2f out of range", t, p.Weight)
		}
		if p.MaxTasks <= 0 {
			return fmt.Errorf("role %s: max_tasks must be positive", t)
		}
		if p.MaxInstances <= 0 {
			return fmt.Errorf("role %s: max_instances must be positive", t)
		}
		sum += p.Weight
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("role weights sum to %.4f, want 1.0", sum)
	}
	return nil
}

// Weight returns the decision weight for an agent type, falling back to
// DefaultWeight for unknown types.
func (rt RoleTable) WeightOf(t AgentType) float64 {
	if p, ok := rt[t]; ok {
		return p.Weight
	}
	return DefaultWeight
}

// MaxTasksOf returns the concurrency cap for an agent type. Unknown types
// get a cap of 1 so they can still drain work without flooding.
func (rt RoleTable) MaxTasksOf(t AgentType) int {
	if p, ok := rt[t]; ok {
		return p.MaxTasks
	}
	return 1
}
