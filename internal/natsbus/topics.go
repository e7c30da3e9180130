package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicAgentAssign(agentID string) string {
	return fmt.Sprintf("agent.%s.assign", agentID)
}

func TopicAgentAck(agentID string) string {
	return fmt.Sprintf("agent.%s.ack", agentID)
}

func TopicAgentControl(agentID string) string {
	return fmt.Sprintf("agent.%s.control", agentID)
}

const (
	TopicSwarmRegister  = "swarm.register"
	TopicSwarmHeartbeat = "swarm.heartbeat"
	TopicSwarmResults   = "swarm.results"
)

func TopicEventsSwarm(eventType string) string {
	return fmt.Sprintf("events.swarm.%s", eventType)
}

const (
	TopicEventsAll      = "events.>"
	TopicEventsSwarmAll = "events.swarm.*"
)
