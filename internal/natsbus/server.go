package natsbus

import (
	"fmt"
	"os"
	"time"

	"github.com/hivegate/hivegate/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// Bus is the embedded NATS server the change feed flows over. Upstream
// producers publish feed.* subjects to it; the relay subscribes. Running it
// in-process keeps the gateway a single binary with no external broker to
// operate.
type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

func New(cfg config.NATSConfig) (*Bus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	// JetStream gives feed producers durable streams to publish into even
	// though the relay itself consumes at-most-once.
	ns, err := natsserver.NewServer(&natsserver.Options{
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  cfg.DataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		return nil, fmt.Errorf("nats server not ready after %s", readyTimeout)
	}

	return &Bus{server: ns, cfg: cfg}, nil
}

// ClientURL is the in-process connection URL; with Port 0 the server picks
// a free port, so callers must ask rather than derive it from config.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

func (b *Bus) Port() int {
	return b.cfg.Port
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
