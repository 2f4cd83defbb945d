package broker

import (
	"encoding/json"
	"log/slog"

	"github.com/hivegate/hivegate/internal/config"
)

// Broker ties the registry, router, heartbeat monitor and matcher together
// and dispatches inbound envelopes to them. One Broker per process; multiple
// independent instances exist only in tests.
type Broker struct {
	registry *Registry
	router   *Router
	monitor  *Monitor
	matcher  *Matcher
	store    Persistence
}

func New(cfg config.BrokerConfig, store Persistence) *Broker {
	reg := NewRegistry(store)
	rt := NewRouter(reg, store, cfg.AuditMessages)
	reg.SetRouter(rt)

	return &Broker{
		registry: reg,
		router:   rt,
		monitor:  NewMonitor(reg, rt, cfg),
		matcher:  NewMatcher(reg, rt),
		store:    store,
	}
}

func (b *Broker) Registry() *Registry { return b.registry }
func (b *Broker) Router() *Router     { return b.router }
func (b *Broker) Monitor() *Monitor   { return b.monitor }
func (b *Broker) Matcher() *Matcher   { return b.matcher }

// Connect registers a freshly opened transport under the resolved swarm id.
func (b *Broker) Connect(id string, t Transport) {
	b.registry.Register(id, t)
}

// Disconnect tears down the session after a transport close. The transport
// is passed so a replaced connection cannot evict its replacement.
func (b *Broker) Disconnect(id string, t Transport) {
	b.registry.UnregisterTransport(id, t)
}

// HandleMessage dispatches one inbound envelope. Malformed input is logged
// and ignored; the connection stays open and gets no reply.
func (b *Broker) HandleMessage(swarmID string, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("malformed envelope", "swarm", swarmID, "error", err)
		return
	}
	if env.Type == "" {
		slog.Warn("envelope missing type", "swarm", swarmID)
		return
	}

	switch env.Type {
	case MsgHeartbeat:
		b.monitor.OnHeartbeat(swarmID)

	case MsgAgentSpawned:
		var p AgentSpawned
		if !decode(swarmID, env, &p) {
			return
		}
		b.registry.AddAgent(swarmID, p.Agent)

	case MsgTaskOrchestrated:
		var p TaskOrchestrated
		if !decode(swarmID, env, &p) {
			return
		}
		b.registry.AddTask(swarmID, p.Task)

	case MsgTaskCompleted:
		var p TaskCompleted
		if !decode(swarmID, env, &p) {
			return
		}
		b.registry.CompleteTask(swarmID, p.TaskID, p.Result)
		b.persist("update task status", func(s Persistence) error {
			return s.UpdateTaskStatus(p.TaskID, "completed", p.Result)
		})
		b.router.Broadcast(Event{Type: EvtTaskCompleted, Payload: map[string]any{
			"swarm_id": swarmID,
			"task_id":  p.TaskID,
			"result":   p.Result,
		}}, swarmID)

	case MsgPerformanceMetrics:
		metrics := env.Payload
		b.persist("insert metrics", func(s Persistence) error {
			return s.InsertMetrics(swarmID, metrics)
		})
		b.router.Unicast(swarmID, Event{Type: EvtOptimizationSuggestions, Payload: map[string]any{
			"suggestions": suggestOptimizations(metrics),
		}})

	case MsgCoordinationRequest:
		var p CoordinationRequest
		if !decode(swarmID, env, &p) {
			return
		}
		b.matcher.HandleRequest(swarmID, p)

	case MsgCoordinationMessage:
		var p CoordinationMessage
		if !decode(swarmID, env, &p) {
			return
		}
		b.matcher.HandleSessionMessage(swarmID, p.CoordinationID, p.Data)

	case MsgMemorySync:
		var p MemorySync
		if !decode(swarmID, env, &p) {
			return
		}
		b.persist("upsert memory", func(s Persistence) error {
			return s.UpsertMemory(swarmID, p.Snapshot)
		})
		b.router.Broadcast(Event{Type: EvtMemoryShared, Payload: map[string]any{
			"swarm_id": swarmID,
			"snapshot": p.Snapshot,
		}}, swarmID)

	case MsgBroadcast:
		var p BroadcastRequest
		if !decode(swarmID, env, &p) {
			return
		}
		b.router.Broadcast(Event{Type: EvtBroadcastMessage, Payload: map[string]any{
			"from": swarmID,
			"data": p.Data,
		}}, swarmID)

	default:
		slog.Debug("unknown message type", "swarm", swarmID, "type", env.Type)
	}
}

// Shutdown announces the stop to every connected swarm, then closes all
// transports. Background loops stop via their contexts; in-flight
// persistence writes are not awaited.
func (b *Broker) Shutdown() {
	slog.Info("broker shutting down", "connections", b.registry.Size())
	b.router.Broadcast(Event{Type: EvtCoordinatorShutdown}, "")
	b.registry.Clear()
}

func (b *Broker) persist(op string, fn func(Persistence) error) {
	if b.store == nil {
		return
	}
	go func() {
		if err := fn(b.store); err != nil {
			slog.Error("persistence write failed", "op", op, "error", err)
		}
	}()
}

func decode(swarmID string, env Envelope, v any) bool {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		slog.Warn("malformed payload", "swarm", swarmID, "type", env.Type, "error", err)
		return false
	}
	return true
}

// suggestOptimizations derives tuning hints from a metrics submission. The
// counters it looks at are optional; missing ones simply contribute nothing.
func suggestOptimizations(metrics json.RawMessage) []string {
	var m struct {
		TasksFailed int     `json:"tasks_failed"`
		AvgTaskMS   float64 `json:"avg_task_ms"`
		AgentsIdle  int     `json:"agents_idle"`
	}
	_ = json.Unmarshal(metrics, &m)

	var out []string
	if m.TasksFailed > 0 {
		out = append(out, "review failed tasks before re-orchestrating")
	}
	if m.AvgTaskMS > 60000 {
		out = append(out, "split long-running tasks across more agents")
	}
	if m.AgentsIdle > 0 {
		out = append(out, "assign idle agents to pending tasks")
	}
	if len(out) == 0 {
		out = append(out, "no changes recommended")
	}
	return out
}
