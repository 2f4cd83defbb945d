package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hivegate/hivegate/internal/config"
)

// fakeTransport records every frame written to it.
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	t.frames = append(t.frames, frame)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) frameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

// eventTypes decodes the recorded frames and returns their type fields in order.
func (t *fakeTransport) eventTypes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var types []string
	for _, frame := range t.frames {
		var env Envelope
		if err := json.Unmarshal(frame, &env); err == nil {
			types = append(types, env.Type)
		}
	}
	return types
}

func (t *fakeTransport) countType(eventType string) int {
	n := 0
	for _, et := range t.eventTypes() {
		if et == eventType {
			n++
		}
	}
	return n
}

// payloadOfType returns the payload of the first recorded event of the given type.
func (t *fakeTransport) payloadOfType(eventType string) (json.RawMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, frame := range t.frames {
		var env Envelope
		if err := json.Unmarshal(frame, &env); err == nil && env.Type == eventType {
			return env.Payload, true
		}
	}
	return nil, false
}

// fakePersistence records adapter calls on a channel so async writes can be
// awaited.
type fakePersistence struct {
	ops     chan string
	entries []json.RawMessage
	fail    bool
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{ops: make(chan string, 64)}
}

func (p *fakePersistence) record(op string) error {
	select {
	case p.ops <- op:
	default:
	}
	if p.fail {
		return errors.New("persistence down")
	}
	return nil
}

func (p *fakePersistence) UpsertStatus(swarmID, status string) error {
	return p.record("status:" + swarmID + ":" + status)
}
func (p *fakePersistence) InsertMessage(swarmID string, message []byte) error {
	return p.record("message:" + swarmID)
}
func (p *fakePersistence) InsertAgent(swarmID string, agent json.RawMessage) error {
	return p.record("agent:" + swarmID)
}
func (p *fakePersistence) InsertTask(swarmID string, task json.RawMessage) error {
	return p.record("task:" + swarmID)
}
func (p *fakePersistence) UpdateTaskStatus(taskID, status string, result json.RawMessage) error {
	return p.record("taskstatus:" + taskID + ":" + status)
}
func (p *fakePersistence) InsertMetrics(swarmID string, metrics json.RawMessage) error {
	return p.record("metrics:" + swarmID)
}
func (p *fakePersistence) UpsertMemory(swarmID string, snapshot json.RawMessage) error {
	return p.record("memory:" + swarmID)
}
func (p *fakePersistence) QueryChallengeEntries(challengeID string) ([]json.RawMessage, error) {
	return p.entries, nil
}

func (p *fakePersistence) waitFor(t *testing.T, op string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-p.ops:
			if got == op {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for persistence op %q", op)
		}
	}
}

func newTestBroker(store Persistence) *Broker {
	return New(config.BrokerConfig{
		HeartbeatInterval: 10 * time.Millisecond,
		HeartbeatTimeout:  50 * time.Millisecond,
		AuditMessages:     false,
	}, store)
}

func connectSwarm(b *Broker, id string) *fakeTransport {
	t := &fakeTransport{}
	b.Connect(id, t)
	return t
}

func envelope(t *testing.T, msgType string, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env, err := json.Marshal(Envelope{Type: msgType, Payload: data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return env
}

func TestHandleMessageMalformed(t *testing.T) {
	b := newTestBroker(nil)
	s1 := connectSwarm(b, "s1")
	before := s1.frameCount()

	b.HandleMessage("s1", []byte("not json at all"))
	b.HandleMessage("s1", []byte(`{"payload":{}}`))
	b.HandleMessage("s1", []byte(`{"type":"agent_spawned","payload":"not an object"}`))

	// Connection stays open and gets no reply.
	if s1.isClosed() {
		t.Error("connection should stay open after malformed input")
	}
	if got := s1.frameCount(); got != before {
		t.Errorf("expected no replies to malformed input, got %d new frames", got-before)
	}
}

func TestHandleMessageUnknownType(t *testing.T) {
	b := newTestBroker(nil)
	s1 := connectSwarm(b, "s1")
	before := s1.frameCount()

	b.HandleMessage("s1", []byte(`{"type":"mystery","payload":{}}`))

	if s1.isClosed() {
		t.Error("connection should stay open after unknown type")
	}
	if got := s1.frameCount(); got != before {
		t.Errorf("expected no reply to unknown type, got %d new frames", got-before)
	}
}

func TestDispatchAgentSpawned(t *testing.T) {
	b := newTestBroker(nil)
	connectSwarm(b, "s1")
	s2 := connectSwarm(b, "s2")

	b.HandleMessage("s1", envelope(t, MsgAgentSpawned, AgentSpawned{
		Agent: AgentRef{ID: "a1", Type: "worker", Collaborative: true},
	}))

	agents := b.Registry().AgentsOf("s1")
	if len(agents) != 1 || agents[0].ID != "a1" {
		t.Fatalf("expected agent a1 on s1, got %+v", agents)
	}
	if n := s2.countType(EvtAgentAvailable); n != 1 {
		t.Errorf("expected 1 agent_available on s2, got %d", n)
	}
}

func TestDispatchAgentSpawnedNonCollaborative(t *testing.T) {
	b := newTestBroker(nil)
	connectSwarm(b, "s1")
	s2 := connectSwarm(b, "s2")

	b.HandleMessage("s1", envelope(t, MsgAgentSpawned, AgentSpawned{
		Agent: AgentRef{ID: "a1", Type: "worker"},
	}))

	if n := s2.countType(EvtAgentAvailable); n != 0 {
		t.Errorf("expected no agent_available for non-collaborative agent, got %d", n)
	}
}

func TestDispatchTaskCompleted(t *testing.T) {
	store := newFakePersistence()
	b := newTestBroker(store)
	s1 := connectSwarm(b, "s1")
	s2 := connectSwarm(b, "s2")

	b.HandleMessage("s1", envelope(t, MsgTaskOrchestrated, TaskOrchestrated{
		Task: TaskRef{ID: "t1", Description: "index the corpus"},
	}))
	b.HandleMessage("s1", envelope(t, MsgTaskCompleted, TaskCompleted{
		TaskID: "t1",
		Result: json.RawMessage(`{"ok":true}`),
	}))

	store.waitFor(t, "taskstatus:t1:completed")

	if n := s2.countType(EvtTaskCompleted); n != 1 {
		t.Errorf("expected 1 task_completed on s2, got %d", n)
	}
	if n := s1.countType(EvtTaskCompleted); n != 0 {
		t.Errorf("sender should not hear its own task_completed, got %d", n)
	}
}

func TestDispatchPerformanceMetrics(t *testing.T) {
	store := newFakePersistence()
	b := newTestBroker(store)
	s1 := connectSwarm(b, "s1")

	b.HandleMessage("s1", envelope(t, MsgPerformanceMetrics, map[string]any{
		"tasks_failed": 3,
		"agents_idle":  2,
	}))

	store.waitFor(t, "metrics:s1")

	payload, ok := s1.payloadOfType(EvtOptimizationSuggestions)
	if !ok {
		t.Fatal("expected optimization_suggestions reply")
	}
	var p struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		t.Fatalf("decode suggestions: %v", err)
	}
	if len(p.Suggestions) != 2 {
		t.Errorf("expected 2 suggestions for failed+idle metrics, got %v", p.Suggestions)
	}
}

func TestDispatchMemorySync(t *testing.T) {
	store := newFakePersistence()
	b := newTestBroker(store)
	s1 := connectSwarm(b, "s1")
	s2 := connectSwarm(b, "s2")

	b.HandleMessage("s1", envelope(t, MsgMemorySync, MemorySync{
		Snapshot: json.RawMessage(`{"facts":["x"]}`),
	}))

	store.waitFor(t, "memory:s1")

	if n := s2.countType(EvtMemoryShared); n != 1 {
		t.Errorf("expected 1 memory_shared on s2, got %d", n)
	}
	if n := s1.countType(EvtMemoryShared); n != 0 {
		t.Errorf("sender should not receive its own memory_shared, got %d", n)
	}
}

func TestDispatchBroadcast(t *testing.T) {
	b := newTestBroker(nil)
	s1 := connectSwarm(b, "s1")
	s2 := connectSwarm(b, "s2")
	s3 := connectSwarm(b, "s3")

	b.HandleMessage("s1", envelope(t, MsgBroadcast, BroadcastRequest{
		Data: json.RawMessage(`{"note":"hi"}`),
	}))

	for name, tr := range map[string]*fakeTransport{"s2": s2, "s3": s3} {
		if n := tr.countType(EvtBroadcastMessage); n != 1 {
			t.Errorf("expected 1 broadcast_message on %s, got %d", name, n)
		}
		payload, _ := tr.payloadOfType(EvtBroadcastMessage)
		var p struct {
			From string `json:"from"`
		}
		_ = json.Unmarshal(payload, &p)
		if p.From != "s1" {
			t.Errorf("expected from=s1 on %s, got %q", name, p.From)
		}
	}
	if n := s1.countType(EvtBroadcastMessage); n != 0 {
		t.Errorf("sender should not receive its own broadcast, got %d", n)
	}
}

func TestDispatchHeartbeat(t *testing.T) {
	b := newTestBroker(nil)
	s1 := connectSwarm(b, "s1")

	b.HandleMessage("s1", []byte(`{"type":"heartbeat"}`))

	if n := s1.countType(EvtHeartbeatAck); n != 1 {
		t.Errorf("expected 1 heartbeat_ack, got %d", n)
	}
}

func TestShutdown(t *testing.T) {
	b := newTestBroker(nil)
	transports := make([]*fakeTransport, 0, 3)
	for i := 1; i <= 3; i++ {
		transports = append(transports, connectSwarm(b, fmt.Sprintf("s%d", i)))
	}

	b.Shutdown()

	if size := b.Registry().Size(); size != 0 {
		t.Errorf("expected empty registry after shutdown, got %d", size)
	}
	for i, tr := range transports {
		if n := tr.countType(EvtCoordinatorShutdown); n != 1 {
			t.Errorf("swarm s%d: expected 1 coordinator_shutdown, got %d", i+1, n)
		}
		if !tr.isClosed() {
			t.Errorf("swarm s%d: expected transport closed after shutdown", i+1)
		}
	}
}
