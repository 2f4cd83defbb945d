package broker

import "encoding/json"

// Inbound message kinds.
const (
	MsgHeartbeat           = "heartbeat"
	MsgAgentSpawned        = "agent_spawned"
	MsgTaskOrchestrated    = "task_orchestrated"
	MsgTaskCompleted       = "task_completed"
	MsgPerformanceMetrics  = "performance_metrics"
	MsgCoordinationRequest = "coordination_request"
	MsgCoordinationMessage = "coordination_message"
	MsgMemorySync          = "memory_sync"
	MsgBroadcast           = "broadcast"
)

// Produced message kinds.
const (
	EvtConnectionEstablished   = "connection_established"
	EvtSwarmJoined             = "swarm_joined"
	EvtSwarmLeft               = "swarm_left"
	EvtHeartbeatAck            = "heartbeat_ack"
	EvtDatabaseEvent           = "database_event"
	EvtJudgeRequest            = "judge_request"
	EvtChallengeJudgingStarted = "challenge_judging_started"
	EvtAgentAvailable          = "agent_available"
	EvtTaskCompleted           = "task_completed"
	EvtOptimizationSuggestions = "optimization_suggestions"
	EvtCoordinationEstablished = "coordination_established"
	EvtCoordinationFailed      = "coordination_failed"
	EvtCoordinationMessage     = "coordination_message"
	EvtMemoryShared            = "memory_shared"
	EvtBroadcastMessage        = "broadcast_message"
	EvtCoordinatorShutdown     = "coordinator_shutdown"
)

// Envelope is one inbound application-level message: a type discriminator
// plus a type-specific payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Event is one outbound message.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Inbound payloads.

type AgentSpawned struct {
	Agent AgentRef `json:"agent"`
}

type TaskOrchestrated struct {
	Task TaskRef `json:"task"`
}

type TaskCompleted struct {
	TaskID string          `json:"task_id"`
	Result json.RawMessage `json:"result,omitempty"`
}

type CoordinationRequest struct {
	Task         string        `json:"task,omitempty"`
	Requirements []Requirement `json:"requirements"`
}

type CoordinationMessage struct {
	CoordinationID string          `json:"coordination_id"`
	Data           json.RawMessage `json:"data"`
}

type MemorySync struct {
	Snapshot json.RawMessage `json:"snapshot"`
}

type BroadcastRequest struct {
	Data json.RawMessage `json:"data"`
}
