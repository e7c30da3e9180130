package metrics

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of the collector's counters.
type Snapshot struct {
	TasksSubmitted  uint64            `json:"tasks_submitted"`
	TasksAssigned   uint64            `json:"tasks_assigned"`
	TasksByStatus   map[string]uint64 `json:"tasks_by_status"`
	DelegationOK    uint64            `json:"delegations_ok"`
	DelegationMiss  uint64            `json:"delegations_missed"`
	Decisions       uint64            `json:"decisions"`
	Vetoes          uint64            `json:"vetoes"`
	AgentsGained    uint64            `json:"agents_registered"`
	AgentsLost      uint64            `json:"agents_lost"`
	UptimeSeconds   float64           `json:"uptime_seconds"`
}

// Collector is an explicit, passed-by-handle metrics object. There is no
// package-level registry; every component that records metrics receives
// one at construction.
type Collector struct {
	mu        sync.Mutex
	startedAt time.Time

	tasksSubmitted uint64
	tasksAssigned  uint64
	tasksByStatus  map[string]uint64
	delegationOK   uint64
	delegationMiss uint64
	decisions      uint64
	vetoes         uint64
	agentsGained   uint64
	agentsLost     uint64
}

func NewCollector() *Collector {
	return &Collector{
		startedAt:     time.Now(),
		tasksByStatus: make(map[string]uint64),
	}
}

func (c *Collector) TaskSubmitted() {
	c.mu.Lock()
	c.tasksSubmitted++
	c.mu.Unlock()
}

func (c *Collector) TaskAssigned() {
	c.mu.Lock()
	c.tasksAssigned++
	c.delegationOK++
	c.mu.Unlock()
}

func (c *Collector) DelegationMissed() {
	c.mu.Lock()
	c.delegationMiss++
	c.mu.Unlock()
}

// TaskFinished records a terminal status ("completed", "failed",
// "cancelled").
func (c *Collector) TaskFinished(status string) {
	c.mu.Lock()
	c.tasksByStatus[status]++
	c.mu.Unlock()
}

func (c *Collector) DecisionMade(vetoed bool) {
	c.mu.Lock()
	c.decisions++
	if vetoed {
		c.vetoes++
	}
	c.mu.Unlock()
}

func (c *Collector) AgentRegistered() {
	c.mu.Lock()
	c.agentsGained++
	c.mu.Unlock()
}

func (c *Collector) AgentsLost(n int) {
	c.mu.Lock()
	c.agentsLost += uint64(n)
	c.mu.Unlock()
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	byStatus := make(map[string]uint64, len(c.tasksByStatus))
	for k, v := range c.tasksByStatus {
		byStatus[k] = v
	}
	return Snapshot{
		TasksSubmitted: c.tasksSubmitted,
		TasksAssigned:  c.tasksAssigned,
		TasksByStatus:  byStatus,
		DelegationOK:   c.delegationOK,
		DelegationMiss: c.delegationMiss,
		Decisions:      c.decisions,
		Vetoes:         c.vetoes,
		AgentsGained:   c.agentsGained,
		AgentsLost:     c.agentsLost,
		UptimeSeconds:  time.Since(c.startedAt).Seconds(),
	}
}
