package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rojlabs/roj/internal/delegate"
	"github.com/rojlabs/roj/internal/hive"
	"github.com/rojlabs/roj/internal/metrics"
	"github.com/rojlabs/roj/internal/registry"
	"github.com/rojlabs/roj/internal/synth"
)

// decisionHistoryCap bounds the in-memory decision history.
const decisionHistoryCap = 256

// Coordinator is the top-level driver: it owns the swarm state machine,
// the active-task set and the background loops. It is the sole writer of
// task status, so a task's lifecycle transitions are observed in order.
type Coordinator struct {
	cfg       Config
	reg       *registry.Registry
	delegator *delegate.Delegator
	synth     *synth.Synthesizer
	transport Transport
	memory    Memory
	feedback  Feedback
	collector *metrics.Collector
	events    EventSink

	mu          sync.RWMutex
	state       State
	activeTasks map[uuid.UUID]*hive.Task
	decisions   []hive.Decision

	taskCh  chan *hive.Task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewCoordinator(cfg Config, reg *registry.Registry, del *delegate.Delegator, syn *synth.Synthesizer, transport Transport, memory Memory, feedback Feedback, collector *metrics.Collector) *Coordinator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Coordinator{
		cfg:         cfg,
		reg:         reg,
		delegator:   del,
		synth:       syn,
		transport:   transport,
		memory:      memory,
		feedback:    feedback,
		collector:   collector,
		state:       StateInitializing,
		activeTasks: make(map[uuid.UUID]*hive.Task),
		taskCh:      make(chan *hive.Task, cfg.QueueSize),
	}
}

// OnEvent installs the event sink. Must be called before Start.
func (c *Coordinator) OnEvent(sink EventSink) {
	c.events = sink
}

// Start moves the swarm to Active and spawns the background loops. A
// second call is an error and does not double-start anything.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	if !c.state.canTransition(StateActive) {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot start from state %s", state)
	}
	c.state = StateActive
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.emit("swarm_started", nil)
	slog.Info("swarm coordinator started",
		"heartbeat_interval", c.cfg.HeartbeatInterval,
		"heartbeat_timeout", c.cfg.HeartbeatTimeout)

	c.wg.Add(3)
	go c.heartbeatLoop(ctx)
	go c.taskLoop(ctx)
	go c.deadlineLoop(ctx)
	return nil
}

// Shutdown is terminal: it stops the loops, cancels every in-flight task
// and waits for the loops within the configured budget.
func (c *Coordinator) Shutdown() error {
	c.mu.Lock()
	if c.state == StateShutdown {
		c.mu.Unlock()
		return nil
	}
	c.state = StateShutdown
	cancel := c.cancel

	// In-flight work is cancelled, not completed. Agents keep running;
	// telling them to stop is a transport concern.
	for id, task := range c.activeTasks {
		task.Status = hive.TaskCancelled
		task.FailureReason = hive.ReasonCancelled
		if task.AssignedAgent != uuid.Nil {
			go c.reg.ReleaseTask(task.AssignedAgent, id)
		}
		c.collector.TaskFinished(string(hive.TaskCancelled))
	}
	cancelled := len(c.activeTasks)
	c.activeTasks = make(map[uuid.UUID]*hive.Task)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	timeout := c.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("shutdown timed out waiting for loops")
	}

	c.emit("swarm_shutdown", map[string]any{"cancelled_tasks": cancelled})
	slog.Info("swarm coordinator shut down", "cancelled_tasks", cancelled)
	return nil
}

// EnterMaintenance and LeaveMaintenance are the administrative detour.
func (c *Coordinator) EnterMaintenance() error { return c.transition(StateMaintenance) }
func (c *Coordinator) LeaveMaintenance() error { return c.transition(StateActive) }

func (c *Coordinator) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.canTransition(to) {
		return fmt.Errorf("invalid state transition %s -> %s", c.state, to)
	}
	from := c.state
	c.state = to
	go c.emit("state_changed", map[string]any{"from": string(from), "to": string(to)})
	return nil
}

// State returns the current swarm state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// RegisterAgent adds a worker to the registry.
func (c *Coordinator) RegisterAgent(t hive.AgentType, caps []hive.Capability, endpoint string) (uuid.UUID, error) {
	id, err := c.reg.Register(t, caps, endpoint)
	if err != nil {
		return uuid.Nil, err
	}
	c.collector.AgentRegistered()
	c.emit("agent_registered", map[string]any{"agent": id.String(), "type": string(t)})
	return id, nil
}

// UnregisterAgent removes a worker.
func (c *Coordinator) UnregisterAgent(id uuid.UUID) {
	c.reg.Unregister(id)
}

// HandleHeartbeat applies an agent liveness signal and acknowledges it.
// Unknown agents are logged and ignored; a stray heartbeat must never
// crash the caller.
func (c *Coordinator) HandleHeartbeat(ctx context.Context, agentID uuid.UUID) {
	if err := c.reg.Heartbeat(agentID); err != nil {
		slog.Warn("heartbeat for unknown agent", "agent", agentID)
		return
	}
	if err := c.transport.SendHeartbeatAck(ctx, agentID); err != nil {
		slog.Warn("heartbeat ack failed", "agent", agentID, "error", err)
	}
}

// Submit validates and enqueues a unit of work, returning its id.
func (c *Coordinator) Submit(taskType string, priority hive.TaskPriority, payload json.RawMessage, deadline time.Time, caps []hive.Capability, preferred hive.AgentType) (uuid.UUID, error) {
	if len(payload) == 0 {
		return uuid.Nil, fmt.Errorf("missing payload: %w", hive.ErrInvalidTask)
	}
	if !deadline.IsZero() && deadline.Before(time.Now()) {
		return uuid.Nil, fmt.Errorf("deadline in the past: %w", hive.ErrInvalidTask)
	}

	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	if state != StateActive && state != StateDegraded {
		return uuid.Nil, fmt.Errorf("swarm is %s, not accepting work", state)
	}

	task := hive.NewTask(taskType, priority, payload, caps, deadline)
	task.PreferredType = preferred

	select {
	case c.taskCh <- task:
	default:
		return uuid.Nil, errors.New("task queue full")
	}

	c.collector.TaskSubmitted()
	c.emit("task_submitted", map[string]any{"task": task.ID.String(), "type": taskType})
	return task.ID, nil
}

// DelegateTask assigns a pending task to the best available agent and
// dispatches the assignment. NoEligibleAgentError is surfaced unchanged:
// the task is not dropped, the caller owns the retry policy.
func (c *Coordinator) DelegateTask(ctx context.Context, task *hive.Task) error {
	assignment, err := c.delegator.Delegate(task, delegate.BestAvailable)
	if err != nil {
		if hive.IsNoEligibleAgent(err) {
			c.collector.DelegationMissed()
		}
		return err
	}

	task.Status = hive.TaskAssigned
	task.AssignedAgent = assignment.AgentID

	c.mu.Lock()
	c.activeTasks[task.ID] = task
	c.mu.Unlock()

	c.collector.TaskAssigned()
	c.emit("task_assigned", map[string]any{"task": task.ID.String(), "agent": assignment.AgentID.String()})

	// Fire-and-forget dispatch; no synchronous reply is expected.
	if err := c.transport.SendAssignment(ctx, assignment.AgentID, *task); err != nil {
		slog.Warn("assignment dispatch failed", "task", task.ID, "agent", assignment.AgentID, "error", err)
	}
	return nil
}

// ReceiveTaskResult is how agent replies enter the coordinator. Unknown
// task ids are logged and ignored. The memory store call runs under a
// bounded timeout; a slow store fails this task, not the loop. Judgment
// sets go through synthesis behind a panic guard.
func (c *Coordinator) ReceiveTaskResult(ctx context.Context, taskID uuid.UUID, result hive.TaskResult) {
	c.mu.Lock()
	task, ok := c.activeTasks[taskID]
	if ok {
		delete(c.activeTasks, taskID)
	}
	c.mu.Unlock()

	if !ok {
		slog.Warn("result for unknown task", "task", taskID)
		return
	}

	if task.AssignedAgent != uuid.Nil {
		c.reg.CompleteTask(task.AssignedAgent, taskID, result.OutcomeScore())
	}

	task.Status = hive.TaskCompleted
	if !result.Success {
		task.Status = hive.TaskFailed
		task.FailureReason = result.Error
	}

	storeCtx, cancel := context.WithTimeout(ctx, c.cfg.MemoryTimeout)
	err := c.memory.Store(storeCtx, taskID, result)
	cancel()
	if err != nil {
		task.Status = hive.TaskFailed
		if errors.Is(err, context.DeadlineExceeded) {
			task.FailureReason = hive.ReasonMemoryStoreTimeout
		} else {
			task.FailureReason = hive.ReasonMemoryStoreFailed
		}
		slog.Error("memory store failed", "task", taskID, "error", err)
	}

	if task.Status == hive.TaskCompleted && len(result.Judgments) > 0 {
		if decision := c.synthesize(task, result.Judgments); decision != nil {
			c.recordDecision(*decision)
			go c.recordOutcome(*task, *decision)
		} else {
			task.Status = hive.TaskFailed
			if task.FailureReason == "" {
				task.FailureReason = hive.ReasonSynthesisFailed
			}
		}
	}

	c.collector.TaskFinished(string(task.Status))
	data := map[string]any{
		"task":   taskID.String(),
		"status": string(task.Status),
	}
	if task.FailureReason != "" {
		data["reason"] = task.FailureReason
	}
	c.emit("task_finished", data)
}

// synthesize runs decision synthesis with a panic guard: a crash inside
// synthesis fails this one task, never the coordinator.
func (c *Coordinator) synthesize(task *hive.Task, judgments []hive.Judgment) (decision *hive.Decision) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("synthesis panicked", "task", task.ID, "panic", r)
			decision = nil
		}
	}()

	d, err := c.synth.Synthesize(task.ID, judgments)
	if err != nil {
		slog.Error("synthesis failed", "task", task.ID, "error", err)
		return nil
	}
	return d
}

func (c *Coordinator) recordDecision(d hive.Decision) {
	c.mu.Lock()
	c.decisions = append(c.decisions, d)
	if len(c.decisions) > decisionHistoryCap {
		c.decisions = c.decisions[len(c.decisions)-decisionHistoryCap:]
	}
	c.mu.Unlock()

	c.collector.DecisionMade(d.Rationale.Vetoed)
	c.emit("decision", map[string]any{
		"task":       d.TaskID.String(),
		"action":     string(d.Action),
		"confidence": d.Confidence,
		"level":      string(d.Level),
		"vetoed":     d.Rationale.Vetoed,
	})
}

// recordOutcome forwards to the feedback collaborator. Failures are
// logged, never escalated to the result path.
func (c *Coordinator) recordOutcome(task hive.Task, decision hive.Decision) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.MemoryTimeout)
	defer cancel()
	if err := c.feedback.RecordOutcome(ctx, task, decision); err != nil {
		slog.Warn("feedback record failed", "task", task.ID, "error", err)
	}
}

// Decisions returns a copy of recent decisions, newest last.
func (c *Coordinator) Decisions() []hive.Decision {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]hive.Decision(nil), c.decisions...)
}

// ActiveTasks returns copies of the in-flight tasks.
func (c *Coordinator) ActiveTasks() []hive.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]hive.Task, 0, len(c.activeTasks))
	for _, t := range c.activeTasks {
		out = append(out, *t)
	}
	return out
}

// Metrics returns the pull-based observability snapshot.
func (c *Coordinator) Metrics() Metrics {
	c.mu.RLock()
	state := c.state
	active := len(c.activeTasks)
	c.mu.RUnlock()

	return Metrics{
		State:       state,
		Agents:      c.reg.Stats(),
		ActiveTasks: active,
		QueuedTasks: len(c.taskCh),
		Counters:    c.collector.Snapshot(),
		Delegation:  c.delegator.Stats(),
		Synthesis:   c.synth.Stats(),
	}
}

// heartbeatLoop periodically sweeps agent liveness and drives the
// Active/Degraded health transition. It touches only in-memory state.
func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lost := c.reg.SweepHeartbeats(c.cfg.HeartbeatTimeout)
			if len(lost) > 0 {
				c.collector.AgentsLost(len(lost))
				for _, id := range lost {
					c.emit("agent_lost", map[string]any{"agent": id.String()})
				}
			}
			c.checkHealth()
		}
	}
}

// checkHealth flips Active⇄Degraded from the inactive-agent fraction.
func (c *Coordinator) checkHealth() {
	stats := c.reg.Stats()
	if stats.TotalAgents == 0 {
		return
	}
	inactiveFrac := float64(stats.InactiveAgents) / float64(stats.TotalAgents)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == StateActive && inactiveFrac > c.cfg.DegradedThreshold:
		c.state = StateDegraded
		go c.emit("state_changed", map[string]any{"from": "active", "to": "degraded"})
		slog.Warn("swarm degraded", "inactive_fraction", fmt.Sprintf("%.2f", inactiveFrac))
	case c.state == StateDegraded && inactiveFrac <= c.cfg.DegradedThreshold:
		c.state = StateActive
		go c.emit("state_changed", map[string]any{"from": "degraded", "to": "active"})
		slog.Info("swarm recovered")
	}
}

// taskLoop drains the inbound queue. A task that finds no eligible agent
// is retried with backoff up to its retry budget, then failed; it is
// never silently dropped.
func (c *Coordinator) taskLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-c.taskCh:
			err := c.DelegateTask(ctx, task)
			if err == nil {
				continue
			}
			if !hive.IsNoEligibleAgent(err) {
				slog.Error("delegation failed", "task", task.ID, "error", err)
				c.failTask(task, err.Error())
				continue
			}
			if !task.CanRetry() {
				slog.Warn("task exhausted delegation retries", "task", task.ID, "type", task.Type)
				c.failTask(task, err.Error())
				continue
			}
			task.Retries++
			c.requeue(ctx, task)
		}
	}
}

// requeue puts a task back on the queue after a short backoff without
// blocking the drain loop.
func (c *Coordinator) requeue(ctx context.Context, task *hive.Task) {
	backoff := time.Duration(task.Retries) * 100 * time.Millisecond
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
			select {
			case c.taskCh <- task:
			default:
				c.failTask(task, "task queue full on retry")
			}
		}
	}()
}

func (c *Coordinator) failTask(task *hive.Task, reason string) {
	task.Status = hive.TaskFailed
	task.FailureReason = reason
	c.collector.TaskFinished(string(hive.TaskFailed))
	c.emit("task_finished", map[string]any{"task": task.ID.String(), "status": "failed", "reason": reason})
}

// deadlineLoop fails tasks whose deadline passed while in flight and
// frees their agent slots so capacity is not leaked.
func (c *Coordinator) deadlineLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.DeadlineInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepDeadlines(time.Now())
		}
	}
}

func (c *Coordinator) sweepDeadlines(now time.Time) {
	c.mu.Lock()
	var expired []*hive.Task
	for id, task := range c.activeTasks {
		if task.Expired(now) {
			delete(c.activeTasks, id)
			expired = append(expired, task)
		}
	}
	c.mu.Unlock()

	for _, task := range expired {
		if task.AssignedAgent != uuid.Nil {
			c.reg.ReleaseTask(task.AssignedAgent, task.ID)
		}
		task.Status = hive.TaskFailed
		task.FailureReason = hive.ReasonDeadlineExceeded
		c.collector.TaskFinished(string(hive.TaskFailed))
		c.emit("task_finished", map[string]any{"task": task.ID.String(), "status": "failed", "reason": hive.ReasonDeadlineExceeded})
		slog.Warn("task deadline exceeded", "task", task.ID, "agent", task.AssignedAgent)
	}
}

func (c *Coordinator) emit(eventType string, data map[string]any) {
	if c.events == nil {
		return
	}
	c.events(Event{Type: eventType, At: time.Now(), Data: data})
}
