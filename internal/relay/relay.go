package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hivegate/hivegate/internal/broker"
	"github.com/hivegate/hivegate/internal/config"
	"github.com/hivegate/hivegate/internal/natsbus"
	"github.com/nats-io/nats.go"
)

const defaultQueueSize = 1024

// tables the relay subscribes to, once, at startup.
var tables = []string{
	natsbus.TableSwarmEvents,
	natsbus.TableSwarmTasks,
	natsbus.TableAgentStatus,
	natsbus.TableChallengeCompletions,
}

// ChangeEvent is one upstream insert/update/delete notification.
type ChangeEvent struct {
	Table     string          `json:"table"`
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Relay consumes the upstream change feed and fans each event out to the
// subset of swarms its table's targeting rule selects. Events pass through a
// bounded queue; under burst load the oldest pending event is dropped, so
// the relay always keeps up at the cost of completeness.
type Relay struct {
	client   *natsbus.Client
	registry *broker.Registry
	router   *broker.Router
	store    broker.Persistence

	queue   chan ChangeEvent
	subs    []*nats.Subscription
	dropped atomic.Uint64
}

func New(client *natsbus.Client, reg *broker.Registry, rt *broker.Router, store broker.Persistence, cfg config.RelayConfig) *Relay {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Relay{
		client:   client,
		registry: reg,
		router:   rt,
		store:    store,
		queue:    make(chan ChangeEvent, size),
	}
}

// Start subscribes to the feed topics and launches the consumer loop. The
// loop stops and unsubscribes when the context is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	for _, table := range tables {
		sub, err := r.client.Subscribe(natsbus.TopicFeedTable(table), r.onFeedMessage)
		if err != nil {
			r.unsubscribe()
			return err
		}
		r.subs = append(r.subs, sub)
	}
	slog.Info("change-feed relay started", "tables", len(tables), "queue", cap(r.queue))

	go r.run(ctx)
	return nil
}

// Dropped reports how many events the bounded queue has evicted.
func (r *Relay) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Relay) run(ctx context.Context) {
	defer r.unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			r.dispatch(ev)
		}
	}
}

func (r *Relay) unsubscribe() {
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.subs = nil
}

func (r *Relay) onFeedMessage(msg *nats.Msg) {
	table, op, ok := parseSubject(msg.Subject)
	if !ok {
		slog.Warn("unexpected feed subject", "subject", msg.Subject)
		return
	}
	r.enqueue(ChangeEvent{
		Table:     table,
		Operation: op,
		Payload:   json.RawMessage(msg.Data),
		Timestamp: time.Now(),
	})
}

// enqueue applies the drop-oldest backpressure policy: a full queue evicts
// its oldest pending event to make room for the new one.
func (r *Relay) enqueue(ev ChangeEvent) {
	select {
	case r.queue <- ev:
		return
	default:
	}

	select {
	case <-r.queue:
		r.dropped.Add(1)
		slog.Warn("relay queue full, dropped oldest event", "dropped_total", r.dropped.Load())
	default:
	}

	select {
	case r.queue <- ev:
	default:
		// Consumer raced us back to full; drop the new event instead.
		r.dropped.Add(1)
	}
}

func (r *Relay) dispatch(ev ChangeEvent) {
	event := broker.Event{Type: broker.EvtDatabaseEvent, Payload: map[string]any{
		"table": ev.Table,
		"event": ev.Operation,
		"data":  ev.Payload,
	}}

	switch ev.Table {
	case natsbus.TableAgentStatus:
		// Only swarms that actually hold the agent hear about it.
		var p struct {
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(ev.Payload, &p); err != nil || p.AgentID == "" {
			slog.Warn("agent_status event without agent_id", "error", err)
			return
		}
		for _, id := range r.registry.ActiveIDs() {
			if hasAgent(r.registry.AgentsOf(id), p.AgentID) {
				r.router.Unicast(id, event)
			}
		}

	case natsbus.TableChallengeCompletions:
		for _, id := range r.registry.ActiveIDs() {
			r.router.Unicast(id, event)
		}
		r.startJudging(ev)

	default:
		for _, id := range r.registry.ActiveIDs() {
			r.router.Unicast(id, event)
		}
	}
}

// startJudging hands a completed challenge to its judge swarm and announces
// the judging phase to everyone.
func (r *Relay) startJudging(ev ChangeEvent) {
	var p struct {
		ChallengeID string `json:"challenge_id"`
	}
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.ChallengeID == "" {
		slog.Warn("challenge completion without challenge_id", "error", err)
		return
	}

	var entries []json.RawMessage
	if r.store != nil {
		var err error
		entries, err = r.store.QueryChallengeEntries(p.ChallengeID)
		if err != nil {
			slog.Error("query challenge entries failed", "challenge", p.ChallengeID, "error", err)
		}
	}

	r.router.Unicast(JudgeID(p.ChallengeID), broker.Event{Type: broker.EvtJudgeRequest, Payload: map[string]any{
		"challenge_id": p.ChallengeID,
		"entries":      entries,
		"completion":   ev.Payload,
	}})
	r.router.Broadcast(broker.Event{Type: broker.EvtChallengeJudgingStarted, Payload: map[string]any{
		"challenge_id": p.ChallengeID,
	}}, "")
}

// JudgeID is the deterministic swarm id a challenge's judge connects under.
func JudgeID(challengeID string) string {
	return "judge-" + challengeID
}

func hasAgent(agents []broker.AgentRef, agentID string) bool {
	return slices.ContainsFunc(agents, func(a broker.AgentRef) bool {
		return a.ID == agentID
	})
}

// parseSubject splits "feed.<table>.<operation>" into its parts.
func parseSubject(subject string) (table, op string, ok bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != "feed" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
