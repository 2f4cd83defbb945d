package broker

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Matcher resolves cross-swarm collaboration requests against declared agent
// capabilities and opens ephemeral multi-party sessions.
type Matcher struct {
	registry *Registry
	router   *Router

	mu       sync.RWMutex
	sessions map[string]*CoordinationSession
}

func NewMatcher(reg *Registry, rt *Router) *Matcher {
	return &Matcher{
		registry: reg,
		router:   rt,
		sessions: make(map[string]*CoordinationSession),
	}
}

// HandleRequest scans every registered swarm except the requester and admits
// those whose agent set satisfies all requirement predicates. Every qualifier
// joins; there is no ranking or participant cap. With no qualifiers the
// requester alone receives coordination_failed.
func (m *Matcher) HandleRequest(requesterID string, req CoordinationRequest) {
	var candidates []string
	for _, id := range m.registry.ActiveIDs() {
		if id == requesterID {
			continue
		}
		if satisfiesAll(m.registry.AgentsOf(id), req.Requirements) {
			candidates = append(candidates, id)
		}
	}

	if len(candidates) == 0 {
		m.router.Unicast(requesterID, Event{Type: EvtCoordinationFailed, Payload: map[string]any{
			"reason": "no swarms satisfy the requirements",
		}})
		return
	}

	slices.Sort(candidates)
	sess := &CoordinationSession{
		ID:           uuid.New().String(),
		Participants: append([]string{requesterID}, candidates...),
		Requirements: req.Requirements,
		Task:         req.Task,
		CreatedAt:    time.Now(),
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	slog.Info("coordination session established",
		"id", sess.ID, "requester", requesterID, "participants", len(sess.Participants))

	for _, p := range sess.Participants {
		m.router.Unicast(p, Event{Type: EvtCoordinationEstablished, Payload: map[string]any{
			"coordination_id": sess.ID,
			"participants":    sess.Participants,
			"task":            sess.Task,
		}})
	}
}

// HandleSessionMessage relays a coordination_message to the other session
// participants. An unknown session is a matcher failure and is surfaced to
// the sender.
func (m *Matcher) HandleSessionMessage(fromID, coordinationID string, data json.RawMessage) {
	m.mu.RLock()
	sess, ok := m.sessions[coordinationID]
	m.mu.RUnlock()

	if !ok {
		m.router.Unicast(fromID, Event{Type: EvtCoordinationFailed, Payload: map[string]any{
			"reason":          "unknown coordination session",
			"coordination_id": coordinationID,
		}})
		return
	}

	for _, p := range sess.Participants {
		if p == fromID {
			continue
		}
		m.router.Unicast(p, Event{Type: EvtCoordinationMessage, Payload: map[string]any{
			"coordination_id": sess.ID,
			"from":            fromID,
			"data":            data,
		}})
	}
}

// Sessions returns a snapshot of the open coordination sessions.
func (m *Matcher) Sessions() []CoordinationSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CoordinationSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// satisfiesAll is a logical AND over the requirement predicates. An unknown
// predicate type never matches.
func satisfiesAll(agents []AgentRef, reqs []Requirement) bool {
	for _, req := range reqs {
		if !satisfies(agents, req) {
			return false
		}
	}
	return true
}

func satisfies(agents []AgentRef, req Requirement) bool {
	switch req.Type {
	case ReqAgentType:
		want, ok := req.Value.(string)
		if !ok {
			return false
		}
		for _, a := range agents {
			if a.Type == want {
				return true
			}
		}
	case ReqMinAgents:
		n, ok := asInt(req.Value)
		return ok && len(agents) >= n
	case ReqCapability:
		want, ok := req.Value.(string)
		if !ok {
			return false
		}
		for _, a := range agents {
			if slices.Contains(a.Capabilities, want) {
				return true
			}
		}
	default:
		slog.Debug("unknown requirement type", "type", req.Type)
	}
	return false
}

// asInt coerces the JSON-decoded requirement value (float64 off the wire,
// int from Go callers) to an int.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}
