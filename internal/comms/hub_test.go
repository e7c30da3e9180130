package comms

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rojlabs/roj/internal/config"
	"github.com/rojlabs/roj/internal/hive"
	"github.com/rojlabs/roj/internal/natsbus"
	"github.com/rojlabs/roj/internal/swarm"
)

type stubCoordinator struct {
	mu         sync.Mutex
	registered []hive.AgentType
	heartbeats []uuid.UUID
	results    []uuid.UUID
	nextID     uuid.UUID
}

func (s *stubCoordinator) RegisterAgent(t hive.AgentType, _ []hive.Capability, _ string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = append(s.registered, t)
	return s.nextID, nil
}

func (s *stubCoordinator) UnregisterAgent(uuid.UUID) {}

func (s *stubCoordinator) HandleHeartbeat(_ context.Context, agentID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats = append(s.heartbeats, agentID)
}

func (s *stubCoordinator) ReceiveTaskResult(_ context.Context, taskID uuid.UUID, _ hive.TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, taskID)
}

func newTestHub(t *testing.T) (*Hub, *natsbus.Client, *stubCoordinator) {
	t.Helper()
	bus, err := natsbus.New(config.NATSConfig{Port: 0, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("create bus: %v", err)
	}
	t.Cleanup(bus.Close)

	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	t.Cleanup(client.Close)

	coord := &stubCoordinator{nextID: uuid.New()}
	hub := NewHub(client)
	if err := hub.Start(context.Background(), coord); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	t.Cleanup(hub.Close)
	return hub, client, coord
}

func TestRegisterRequestReply(t *testing.T) {
	_, client, coord := newTestHub(t)

	req, _ := json.Marshal(RegisterRequest{
		Type:         hive.Quant,
		Capabilities: []hive.Capability{hive.CapMathematicalModeling},
		Endpoint:     "nats://quant-1",
	})
	msg, err := client.Request(natsbus.TopicSwarmRegister, req, 2*time.Second)
	if err != nil {
		t.Fatalf("register request: %v", err)
	}

	var reply RegisterReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Error != "" {
		t.Fatalf("reply error: %s", reply.Error)
	}
	if reply.AgentID != coord.nextID {
		t.Fatalf("agent id = %s, want %s", reply.AgentID, coord.nextID)
	}

	coord.mu.Lock()
	defer coord.mu.Unlock()
	if len(coord.registered) != 1 || coord.registered[0] != hive.Quant {
		t.Fatalf("registered = %v", coord.registered)
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	hub, client, coord := newTestHub(t)

	agentID := uuid.New()
	acks := make(chan struct{}, 1)
	_, err := client.Subscribe(natsbus.TopicAgentAck(agentID.String()), func(msg *nats.Msg) {
		acks <- struct{}{}
	})
	if err != nil {
		t.Fatalf("subscribe acks: %v", err)
	}

	hb, _ := json.Marshal(map[string]string{"agent_id": agentID.String()})
	if err := client.Publish(natsbus.TopicSwarmHeartbeat, hb); err != nil {
		t.Fatalf("publish heartbeat: %v", err)
	}
	client.Flush()

	deadline := time.Now().Add(2 * time.Second)
	for {
		coord.mu.Lock()
		n := len(coord.heartbeats)
		coord.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("heartbeat never reached coordinator")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := hub.SendHeartbeatAck(context.Background(), agentID); err != nil {
		t.Fatalf("send ack: %v", err)
	}
	select {
	case <-acks:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for ack")
	}
}

func TestResultDelivery(t *testing.T) {
	_, client, coord := newTestHub(t)

	taskID := uuid.New()
	rm, _ := json.Marshal(resultMsg{
		TaskID: taskID,
		Result: hive.TaskResult{TaskID: taskID, Success: true},
	})
	if err := client.Publish(natsbus.TopicSwarmResults, rm); err != nil {
		t.Fatalf("publish result: %v", err)
	}
	client.Flush()

	deadline := time.Now().Add(2 * time.Second)
	for {
		coord.mu.Lock()
		n := len(coord.results)
		coord.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("result never reached coordinator")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAssignmentAndEventPublish(t *testing.T) {
	hub, client, _ := newTestHub(t)

	agentID := uuid.New()
	assignments := make(chan hive.Task, 1)
	_, err := client.Subscribe(natsbus.TopicAgentAssign(agentID.String()), func(msg *nats.Msg) {
		var task hive.Task
		if err := json.Unmarshal(msg.Data, &task); err == nil {
			assignments <- task
		}
	})
	if err != nil {
		t.Fatalf("subscribe assign: %v", err)
	}

	events := make(chan swarm.Event, 1)
	_, err = client.Subscribe(natsbus.TopicEventsSwarmAll, func(msg *nats.Msg) {
		var e swarm.Event
		if err := json.Unmarshal(msg.Data, &e); err == nil {
			events <- e
		}
	})
	if err != nil {
		t.Fatalf("subscribe events: %v", err)
	}

	task := hive.NewTask("analyze", hive.PriorityHigh, json.RawMessage(`{}`), nil, time.Time{})
	if err := hub.SendAssignment(context.Background(), agentID, *task); err != nil {
		t.Fatalf("send assignment: %v", err)
	}
	hub.PublishEvent(swarm.Event{Type: "task_assigned", At: time.Now()})
	client.Flush()

	select {
	case got := <-assignments:
		if got.ID != task.ID {
			t.Fatalf("task id = %s, want %s", got.ID, task.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for assignment")
	}
	select {
	case e := <-events:
		if e.Type != "task_assigned" {
			t.Fatalf("event type = %s", e.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}
