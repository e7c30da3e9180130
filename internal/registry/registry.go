package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rojlabs/roj/internal/hive"
)

// emaAlpha is the smoothing factor for performance scoring.
const emaAlpha = 0.1

// Candidate is one eligible agent handed to a ranking function.
type Candidate struct {
	ID          uuid.UUID
	Type        hive.AgentType
	Load        int
	Performance float64
}

// RankLess orders candidates; the best one sorts first. Delegation
// strategies only differ in the RankLess they pass in.
type RankLess func(a, b Candidate) bool

// ByLoad ranks ascending by current task count, breaking ties on
// descending performance score. This is the default ordering.
func ByLoad(a, b Candidate) bool {
	if a.Load != b.Load {
		return a.Load < b.Load
	}
	return a.Performance > b.Performance
}

// ByPerformance ranks descending by performance score, breaking ties on
// ascending load.
func ByPerformance(a, b Candidate) bool {
	if a.Performance != b.Performance {
		return a.Performance > b.Performance
	}
	return a.Load < b.Load
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	TotalAgents        int                    `json:"total_agents"`
	ActiveAgents       int                    `json:"active_agents"`
	BusyAgents         int                    `json:"busy_agents"`
	InactiveAgents     int                    `json:"inactive_agents"`
	ByType             map[hive.AgentType]int `json:"by_type,omitempty"`
	AveragePerformance float64                `json:"average_performance"`
}

// Registry is the single source of truth for agent existence, capability,
// load and liveness. All access goes through its methods; the maps are
// never reached from outside.
type Registry struct {
	mu     sync.RWMutex
	roles  hive.RoleTable
	agents map[uuid.UUID]*hive.AgentInfo
	byType map[hive.AgentType][]uuid.UUID
}

func New(roles hive.RoleTable) *Registry {
	return &Registry{
		roles:  roles,
		agents: make(map[uuid.UUID]*hive.AgentInfo),
		byType: make(map[hive.AgentType][]uuid.UUID),
	}
}

// Register adds a new agent and returns its generated id. Registration
// fails with a CapacityError when the role's instance cap is reached.
func (r *Registry) Register(t hive.AgentType, caps []hive.Capability, endpoint string) (uuid.UUID, error) {
	if !t.Valid() {
		return uuid.Nil, fmt.Errorf("unknown agent type %q", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	limit := r.roles[t].MaxInstances
	if len(r.byType[t]) >= limit {
		return uuid.Nil, &hive.CapacityError{Type: t, Limit: limit}
	}

	agent := hive.NewAgentInfo(t, caps, endpoint)
	r.agents[agent.ID] = agent
	r.byType[t] = append(r.byType[t], agent.ID)

	slog.Info("agent registered", "agent", agent.ID, "type", t, "capabilities", len(caps))
	return agent.ID, nil
}

// Unregister removes an agent and its index entries. Unknown ids are an
// idempotent no-op with a warning.
func (r *Registry) Unregister(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		slog.Warn("unregister for unknown agent", "agent", id)
		return
	}

	delete(r.agents, id)
	ids := r.byType[agent.Type]
	kept := ids[:0]
	for _, aid := range ids {
		if aid != id {
			kept = append(kept, aid)
		}
	}
	r.byType[agent.Type] = kept

	slog.Info("agent unregistered", "agent", id, "type", agent.Type)
}

// Heartbeat records a liveness signal. An Inactive agent flips back to
// Active. Unknown ids surface ErrAgentNotFound; callers log and continue.
func (r *Registry) Heartbeat(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("heartbeat from %s: %w", id, hive.ErrAgentNotFound)
	}
	agent.Touch(time.Now())
	return nil
}

// FindBestAgent selects the best eligible agent for a task: available,
// declared capabilities covering the requirements, and below the role's
// concurrency cap. Candidates are ordered by rank (nil means ByLoad).
// Restricting to a preferred type keeps the scan to that role's index.
func (r *Registry) FindBestAgent(taskType string, required []hive.Capability, preferred hive.AgentType, rank RankLess) (uuid.UUID, error) {
	if rank == nil {
		rank = ByLoad
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []Candidate
	consider := func(agent *hive.AgentInfo) {
		if agent.CanAccept(required, r.roles.MaxTasksOf(agent.Type)) {
			candidates = append(candidates, Candidate{
				ID:          agent.ID,
				Type:        agent.Type,
				Load:        len(agent.CurrentTasks),
				Performance: agent.PerformanceScore,
			})
		}
	}

	if preferred != "" {
		for _, id := range r.byType[preferred] {
			consider(r.agents[id])
		}
	} else {
		for _, agent := range r.agents {
			consider(agent)
		}
	}

	if len(candidates) == 0 {
		return uuid.Nil, &hive.NoEligibleAgentError{TaskType: taskType, Required: required, Preferred: preferred}
	}

	sort.Slice(candidates, func(i, j int) bool { return rank(candidates[i], candidates[j]) })
	return candidates[0].ID, nil
}

// AssignTask records a task in the chosen agent's working set.
func (r *Registry) AssignTask(agentID, taskID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("assign task %s: %w", taskID, hive.ErrAgentNotFound)
	}
	agent.Assign(taskID)
	return nil
}

// ReleaseTask frees the agent's slot for a finished or expired task without
// touching the performance score.
func (r *Registry) ReleaseTask(agentID, taskID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if agent, ok := r.agents[agentID]; ok {
		agent.Release(taskID)
	}
}

// CompleteTask frees the slot and folds the outcome sample into the
// agent's performance EMA.
func (r *Registry) CompleteTask(agentID, taskID uuid.UUID, sample float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		slog.Warn("task completion for unknown agent", "agent", agentID, "task", taskID)
		return
	}
	agent.Release(taskID)
	agent.Score(sample, emaAlpha)
}

// SweepHeartbeats marks every agent whose heartbeat is older than timeout
// as Inactive and returns the newly inactive ids. Working sets are left
// untouched; in-flight tasks are reclaimed by the deadline sweep.
func (r *Registry) SweepHeartbeats(timeout time.Duration) []uuid.UUID {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var lost []uuid.UUID
	for id, agent := range r.agents {
		if !agent.Available() {
			continue
		}
		if agent.Overdue(now, timeout) {
			agent.Status = hive.StatusInactive
			lost = append(lost, id)
		}
	}
	if len(lost) > 0 {
		slog.Warn("agents marked inactive", "count", len(lost))
	}
	return lost
}

// SetStatus is the administrative escape hatch for Maintenance/Shutdown.
func (r *Registry) SetStatus(id uuid.UUID, status hive.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("set status for %s: %w", id, hive.ErrAgentNotFound)
	}
	agent.Status = status
	return nil
}

// Get returns a copy of the agent's record.
func (r *Registry) Get(id uuid.UUID) (hive.AgentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return hive.AgentInfo{}, hive.ErrAgentNotFound
	}
	return cloneAgent(agent), nil
}

// Snapshot returns copies of all agent records.
func (r *Registry) Snapshot() []hive.AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]hive.AgentInfo, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, cloneAgent(agent))
	}
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// UpdateRoles swaps the role table. Existing registrations keep their
// slots even if the new instance caps are lower; the caps apply to new
// registrations only.
func (r *Registry) UpdateRoles(roles hive.RoleTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles = roles
}

// Stats summarizes the registry.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{ByType: make(map[hive.AgentType]int)}
	var perfSum float64
	for _, agent := range r.agents {
		s.TotalAgents++
		s.ByType[agent.Type]++
		perfSum += agent.PerformanceScore
		switch agent.Status {
		case hive.StatusActive:
			s.ActiveAgents++
		case hive.StatusBusy:
			s.BusyAgents++
		case hive.StatusInactive:
			s.InactiveAgents++
		}
	}
	if s.TotalAgents > 0 {
		s.AveragePerformance = perfSum / float64(s.TotalAgents)
	}
	return s
}

func cloneAgent(a *hive.AgentInfo) hive.AgentInfo {
	out := *a
	out.Capabilities = append([]hive.Capability(nil), a.Capabilities...)
	out.CurrentTasks = append([]uuid.UUID(nil), a.CurrentTasks...)
	return out
}
