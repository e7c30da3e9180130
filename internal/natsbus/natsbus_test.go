package natsbus

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rojlabs/roj/internal/config"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(config.NATSConfig{
		Port:    0, // Random port
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func TestBusStartStop(t *testing.T) {
	bus := newTestBus(t)
	if bus.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestPubSub(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe(TopicSwarmHeartbeat, func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.Publish(TopicSwarmHeartbeat, []byte("hello")); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != "hello" {
			t.Errorf("expected 'hello', got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishJSON(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe(TopicSwarmResults, func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	payload := map[string]string{"key": "value"}
	if err := client.PublishJSON(TopicSwarmResults, payload); err != nil {
		t.Fatalf("publish json error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != `{"key":"value"}` {
			t.Errorf("expected json, got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestQueueSubscribe(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan struct{}, 4)
	for i := 0; i < 2; i++ {
		_, err = client.QueueSubscribe(TopicSwarmResults, "coordinators", func(msg *nats.Msg) {
			received <- struct{}{}
		})
		if err != nil {
			t.Fatalf("queue subscribe error: %v", err)
		}
	}

	if err := client.Publish(TopicSwarmResults, []byte("r")); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	// Queue groups deliver each message to exactly one member.
	select {
	case <-received:
		t.Fatal("message delivered to more than one group member")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicAgentAssign("g1"); got != "agent.g1.assign" {
		t.Errorf("expected agent.g1.assign, got %s", got)
	}
	if got := TopicAgentAck("g1"); got != "agent.g1.ack" {
		t.Errorf("expected agent.g1.ack, got %s", got)
	}
	if got := TopicEventsSwarm("decision"); got != "events.swarm.decision" {
		t.Errorf("expected events.swarm.decision, got %s", got)
	}
}
