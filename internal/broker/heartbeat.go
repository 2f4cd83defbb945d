package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hivegate/hivegate/internal/config"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatTimeout  = 60 * time.Second
)

// Monitor evicts swarms whose heartbeats have gone quiet. Eviction is the
// only path that removes a connection without an explicit close from the
// transport.
type Monitor struct {
	registry *Registry
	router   *Router
	interval time.Duration
	timeout  time.Duration
}

func NewMonitor(reg *Registry, rt *Router, cfg config.BrokerConfig) *Monitor {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	timeout := cfg.HeartbeatTimeout
	if timeout <= 0 {
		timeout = defaultHeartbeatTimeout
	}
	return &Monitor{
		registry: reg,
		router:   rt,
		interval: interval,
		timeout:  timeout,
	}
}

// OnHeartbeat records a liveness signal and acknowledges it.
func (m *Monitor) OnHeartbeat(id string) {
	if !m.registry.Heartbeat(id) {
		return
	}
	m.router.Unicast(id, Event{Type: EvtHeartbeatAck, Payload: map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}})
}

// Run sweeps on a fixed interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(time.Now())
		}
	}
}

// Sweep evicts every entry whose last heartbeat is older than the timeout.
// The stale set is a single snapshot taken at sweep start.
func (m *Monitor) Sweep(now time.Time) {
	for _, id := range m.registry.StaleIDs(m.timeout, now) {
		slog.Warn("evicting stale swarm", "id", id, "timeout", m.timeout)
		m.registry.Unregister(id)
	}
}
