package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rojlabs/roj/internal/hive"
	"github.com/rojlabs/roj/internal/natsbus"
	"github.com/rojlabs/roj/internal/swarm"
)

// Coordinator is the inbound surface the hub drives from bus traffic.
type Coordinator interface {
	RegisterAgent(t hive.AgentType, caps []hive.Capability, endpoint string) (uuid.UUID, error)
	UnregisterAgent(id uuid.UUID)
	HandleHeartbeat(ctx context.Context, agentID uuid.UUID)
	ReceiveTaskResult(ctx context.Context, taskID uuid.UUID, result hive.TaskResult)
}

// RegisterRequest is the agent-side registration message. Agents send
// it as a NATS request and receive a RegisterReply with their id.
type RegisterRequest struct {
	Type         hive.AgentType    `json:"type"`
	Capabilities []hive.Capability `json:"capabilities"`
	Endpoint     string            `json:"endpoint"`
	Deregister   bool              `json:"deregister,omitempty"`
	AgentID      uuid.UUID         `json:"agent_id,omitzero"`
}

type RegisterReply struct {
	AgentID uuid.UUID `json:"agent_id,omitzero"`
	Error   string    `json:"error,omitempty"`
}

type heartbeatMsg struct {
	AgentID uuid.UUID `json:"agent_id"`
}

type resultMsg struct {
	TaskID uuid.UUID       `json:"task_id"`
	Result hive.TaskResult `json:"result"`
}

// Hub bridges the NATS bus and the coordinator. Outbound it implements
// the coordinator's Transport; inbound it subscribes to the swarm topics
// and translates messages into coordinator calls.
type Hub struct {
	client *natsbus.Client
	coord  Coordinator
	subs   []*nats.Subscription
}

func NewHub(client *natsbus.Client) *Hub {
	return &Hub{client: client}
}

// Start binds the coordinator and installs the inbound subscriptions.
// The coordinator is passed here rather than at construction because the
// hub doubles as the coordinator's Transport.
func (h *Hub) Start(ctx context.Context, coord Coordinator) error {
	h.coord = coord
	sub, err := h.client.Subscribe(natsbus.TopicSwarmRegister, func(msg *nats.Msg) {
		h.handleRegister(msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe register: %w", err)
	}
	h.subs = append(h.subs, sub)

	sub, err = h.client.Subscribe(natsbus.TopicSwarmHeartbeat, func(msg *nats.Msg) {
		var hb heartbeatMsg
		if err := json.Unmarshal(msg.Data, &hb); err != nil {
			slog.Warn("malformed heartbeat", "error", err)
			return
		}
		h.coord.HandleHeartbeat(ctx, hb.AgentID)
	})
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	h.subs = append(h.subs, sub)

	sub, err = h.client.QueueSubscribe(natsbus.TopicSwarmResults, "coordinators", func(msg *nats.Msg) {
		var rm resultMsg
		if err := json.Unmarshal(msg.Data, &rm); err != nil {
			slog.Warn("malformed task result", "error", err)
			return
		}
		h.coord.ReceiveTaskResult(ctx, rm.TaskID, rm.Result)
	})
	if err != nil {
		return fmt.Errorf("subscribe results: %w", err)
	}
	h.subs = append(h.subs, sub)

	return nil
}

func (h *Hub) handleRegister(msg *nats.Msg) {
	var req RegisterRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		slog.Warn("malformed register request", "error", err)
		return
	}

	var reply RegisterReply
	if req.Deregister {
		h.coord.UnregisterAgent(req.AgentID)
		reply.AgentID = req.AgentID
	} else {
		id, err := h.coord.RegisterAgent(req.Type, req.Capabilities, req.Endpoint)
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.AgentID = id
		}
	}

	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		slog.Error("marshal register reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("register reply failed", "error", err)
	}
}

// SendAssignment dispatches a task to the agent's private assign topic.
func (h *Hub) SendAssignment(_ context.Context, agentID uuid.UUID, task hive.Task) error {
	if err := h.client.PublishJSON(natsbus.TopicAgentAssign(agentID.String()), task); err != nil {
		return fmt.Errorf("publish assignment: %w", err)
	}
	return nil
}

// SendHeartbeatAck confirms a heartbeat on the agent's ack topic.
func (h *Hub) SendHeartbeatAck(_ context.Context, agentID uuid.UUID) error {
	ack := map[string]any{"agent_id": agentID.String(), "at": time.Now().UTC()}
	if err := h.client.PublishJSON(natsbus.TopicAgentAck(agentID.String()), ack); err != nil {
		return fmt.Errorf("publish heartbeat ack: %w", err)
	}
	return nil
}

// PublishEvent fans a coordinator event out on the events subject tree.
// Wired as the coordinator's EventSink.
func (h *Hub) PublishEvent(e swarm.Event) {
	if err := h.client.PublishJSON(natsbus.TopicEventsSwarm(e.Type), e); err != nil {
		slog.Warn("event publish failed", "type", e.Type, "error", err)
	}
}

// Close drains the subscriptions.
func (h *Hub) Close() {
	for _, sub := range h.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Debug("unsubscribe failed", "error", err)
		}
	}
	h.subs = nil
}
