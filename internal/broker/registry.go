package broker

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Registry is the authoritative in-memory map of live swarm sessions.
// It is constructed once and injected into the router, monitor, relay and
// matcher; there is no shared registry across broker processes.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*SwarmConnection

	router *Router
	store  Persistence
}

func NewRegistry(store Persistence) *Registry {
	return &Registry{
		conns: make(map[string]*SwarmConnection),
		store: store,
	}
}

// SetRouter breaks the registry/router construction cycle; it must be called
// before the first Register.
func (r *Registry) SetRouter(rt *Router) {
	r.router = rt
}

// Register creates the entry for id, replacing any existing one. Replacement
// is last-writer-wins: the displaced transport is closed and its in-flight
// agents and tasks are discarded. The newcomer gets a connection_established
// acknowledgement; everyone else hears swarm_joined.
func (r *Registry) Register(id string, t Transport) {
	now := time.Now()

	r.mu.Lock()
	if old, ok := r.conns[id]; ok {
		slog.Info("replacing existing swarm connection", "id", id)
		_ = old.Transport.Close()
	}
	r.conns[id] = &SwarmConnection{
		ID:            id,
		Transport:     t,
		Status:        StatusActive,
		ConnectedAt:   now,
		LastHeartbeat: now,
	}
	r.mu.Unlock()

	slog.Info("swarm registered", "id", id)

	r.router.Broadcast(Event{Type: EvtSwarmJoined, Payload: map[string]any{"swarm_id": id}}, id)
	r.router.Unicast(id, Event{Type: EvtConnectionEstablished, Payload: map[string]any{
		"swarm_id":     id,
		"capabilities": Capabilities,
	}})

	r.persist("upsert status", func(p Persistence) error {
		return p.UpsertStatus(id, StatusActive)
	})
}

// Unregister removes the entry if present, closes its transport, broadcasts
// swarm_left and persists the disconnected status. No-op for unknown ids.
func (r *Registry) Unregister(id string) {
	r.remove(id, nil)
}

// UnregisterTransport removes the entry only while it still owns t. A read
// loop whose connection was replaced must not evict the replacement.
func (r *Registry) UnregisterTransport(id string, t Transport) {
	r.remove(id, t)
}

func (r *Registry) remove(id string, owner Transport) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok && owner != nil && conn.Transport != owner {
		ok = false
	}
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	_ = conn.Transport.Close()

	slog.Info("swarm unregistered", "id", id)

	r.router.Broadcast(Event{Type: EvtSwarmLeft, Payload: map[string]any{"swarm_id": id}}, id)
	r.persist("upsert status", func(p Persistence) error {
		return p.UpsertStatus(id, StatusDisconnected)
	})
}

// Lookup returns the live entry for id. The returned pointer is shared with
// the registry; callers must not mutate it.
func (r *Registry) Lookup(id string) (*SwarmConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// AddAgent appends an agent to the entry's set. Collaborative agents are
// announced to the other swarms via agent_available.
func (r *Registry) AddAgent(id string, agent AgentRef) bool {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		conn.Agents = append(conn.Agents, agent)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.persist("insert agent", func(p Persistence) error {
		data, err := json.Marshal(agent)
		if err != nil {
			return err
		}
		return p.InsertAgent(id, data)
	})

	if agent.Collaborative {
		r.router.Broadcast(Event{Type: EvtAgentAvailable, Payload: map[string]any{
			"swarm_id": id,
			"agent":    agent,
		}}, id)
	}
	return true
}

// AddTask appends a task to the entry's set and persists it.
func (r *Registry) AddTask(id string, task TaskRef) bool {
	if task.Status == "" {
		task.Status = "pending"
	}

	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		conn.Tasks = append(conn.Tasks, task)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.persist("insert task", func(p Persistence) error {
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return p.InsertTask(id, data)
	})
	return true
}

// CompleteTask marks a task completed in the entry's in-memory set.
func (r *Registry) CompleteTask(id, taskID string, result json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return
	}
	for i := range conn.Tasks {
		if conn.Tasks[i].ID == taskID {
			conn.Tasks[i].Status = "completed"
			conn.Tasks[i].Result = result
			return
		}
	}
}

// Heartbeat bumps the entry's lastHeartbeat, never backwards.
func (r *Registry) Heartbeat(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	if now := time.Now(); now.After(conn.LastHeartbeat) {
		conn.LastHeartbeat = now
	}
	return true
}

// ActiveIDs returns a snapshot of the registered swarm ids.
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// AgentsOf returns a copy of the entry's agent set.
func (r *Registry) AgentsOf(id string) []AgentRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil
	}
	agents := make([]AgentRef, len(conn.Agents))
	copy(agents, conn.Agents)
	return agents
}

// StaleIDs returns the ids whose last heartbeat is older than timeout, as a
// single consistent snapshot taken at call time.
func (r *Registry) StaleIDs(timeout time.Duration, now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stale []string
	for id, conn := range r.conns {
		if now.Sub(conn.LastHeartbeat) > timeout {
			stale = append(stale, id)
		}
	}
	return stale
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ConnectionInfo is a read-only view of an entry for the operational API.
type ConnectionInfo struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	AgentCount    int       `json:"agent_count"`
	TaskCount     int       `json:"task_count"`
}

func (r *Registry) Snapshot() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]ConnectionInfo, 0, len(r.conns))
	for _, conn := range r.conns {
		infos = append(infos, ConnectionInfo{
			ID:            conn.ID,
			Status:        conn.Status,
			ConnectedAt:   conn.ConnectedAt,
			LastHeartbeat: conn.LastHeartbeat,
			AgentCount:    len(conn.Agents),
			TaskCount:     len(conn.Tasks),
		})
	}
	return infos
}

// Clear closes every transport and empties the map. Used on shutdown, after
// the coordinator_shutdown broadcast.
func (r *Registry) Clear() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*SwarmConnection)
	r.mu.Unlock()

	for id, conn := range conns {
		_ = conn.Transport.Close()
		r.persist("upsert status", func(p Persistence) error {
			return p.UpsertStatus(id, StatusDisconnected)
		})
	}
}

// persist runs a best-effort store write off the message path. Errors are
// logged and swallowed.
func (r *Registry) persist(op string, fn func(Persistence) error) {
	if r.store == nil {
		return
	}
	go func() {
		if err := fn(r.store); err != nil {
			slog.Error("persistence write failed", "op", op, "error", err)
		}
	}()
}
