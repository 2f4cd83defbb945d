package broker

import (
	"encoding/json"
	"log/slog"
)

// Router delivers events to sessions tracked by the registry. Delivery is
// at-most-once and fire-and-forget: a missing target or broken transport
// drops the message with no queueing and no retry. Per-target ordering is
// FIFO because each target has exactly one transport.
type Router struct {
	registry *Registry
	store    Persistence
	audit    bool
}

func NewRouter(reg *Registry, store Persistence, audit bool) *Router {
	return &Router{
		registry: reg,
		store:    store,
		audit:    audit,
	}
}

// Unicast serializes and writes the event to the target's transport.
// Returns false when the message was dropped.
func (r *Router) Unicast(targetID string, event Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal event failed", "type", event.Type, "error", err)
		return false
	}
	return r.send(targetID, data)
}

// Broadcast delivers the event to every registered swarm except excludeID.
// Pass an empty excludeID to reach everyone.
func (r *Router) Broadcast(event Event, excludeID string) int {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal event failed", "type", event.Type, "error", err)
		return 0
	}

	delivered := 0
	for _, id := range r.registry.ActiveIDs() {
		if id == excludeID {
			continue
		}
		if r.send(id, data) {
			delivered++
		}
	}
	return delivered
}

func (r *Router) send(targetID string, data []byte) bool {
	// Audit mirror is independent of delivery success.
	r.mirror(targetID, data)

	conn, ok := r.registry.Lookup(targetID)
	if !ok {
		slog.Debug("unicast target not registered, dropping", "target", targetID)
		return false
	}
	if err := conn.Transport.Send(data); err != nil {
		slog.Debug("transport write failed, dropping", "target", targetID, "error", err)
		return false
	}
	return true
}

func (r *Router) mirror(targetID string, data []byte) {
	if !r.audit || r.store == nil {
		return
	}
	body := make([]byte, len(data))
	copy(body, data)
	go func() {
		if err := r.store.InsertMessage(targetID, body); err != nil {
			slog.Error("persistence write failed", "op", "insert message", "error", err)
		}
	}()
}
