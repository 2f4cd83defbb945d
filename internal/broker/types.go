package broker

import (
	"encoding/json"
	"time"
)

const (
	StatusActive       = "active"
	StatusDisconnected = "disconnected"
)

// Transport is the write side of a swarm's persistent connection. The
// registry entry owns it exclusively; sends to a closed transport fail and
// the message is dropped.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Persistence is the durable side channel the broker writes to. Every call
// is best-effort and fire-and-forget: failures are logged, never propagated
// into the message path. A nil Persistence disables durability entirely.
type Persistence interface {
	UpsertStatus(swarmID, status string) error
	InsertMessage(swarmID string, message []byte) error
	InsertAgent(swarmID string, agent json.RawMessage) error
	InsertTask(swarmID string, task json.RawMessage) error
	UpdateTaskStatus(taskID, status string, result json.RawMessage) error
	InsertMetrics(swarmID string, metrics json.RawMessage) error
	UpsertMemory(swarmID string, snapshot json.RawMessage) error
	QueryChallengeEntries(challengeID string) ([]json.RawMessage, error)
}

// AgentRef is an agent a swarm declared on its connection.
type AgentRef struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Capabilities  []string `json:"capabilities,omitempty"`
	Status        string   `json:"status,omitempty"`
	Collaborative bool     `json:"collaborative,omitempty"`
}

// TaskRef is a task a swarm declared on its connection.
type TaskRef struct {
	ID          string          `json:"id"`
	Description string          `json:"description,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// SwarmConnection is one live registry entry. All fields are guarded by the
// registry's lock; callers get copies via the registry's accessors.
type SwarmConnection struct {
	ID            string
	Transport     Transport
	Status        string
	ConnectedAt   time.Time
	LastHeartbeat time.Time
	Agents        []AgentRef
	Tasks         []TaskRef
}

// CoordinationSession is an ephemeral multi-party channel opened by the
// matcher. It lives only in broker memory and dies with the process.
type CoordinationSession struct {
	ID           string        `json:"id"`
	Participants []string      `json:"participants"`
	Requirements []Requirement `json:"requirements"`
	Task         string        `json:"task,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Requirement is one predicate of a coordination request. Value is a string
// for agent_type and capability, a number for min_agents.
type Requirement struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

const (
	ReqAgentType  = "agent_type"
	ReqMinAgents  = "min_agents"
	ReqCapability = "capability"
)

// Capabilities advertised in connection_established acknowledgements.
var Capabilities = []string{
	"unicast",
	"broadcast",
	"heartbeat",
	"database_relay",
	"coordination",
	"memory_sync",
}
