package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hivegate/hivegate/internal/broker"
	"github.com/hivegate/hivegate/internal/config"
	"github.com/hivegate/hivegate/internal/natsbus"
	"github.com/hivegate/hivegate/internal/relay"
	"github.com/hivegate/hivegate/internal/store"
	"github.com/hivegate/hivegate/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("hivegate %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: hivegate <command>\n\nCommands:\n  gateway    Start the swarm coordination broker\n  backup     Archive the data directory to a tar.zst file\n  restore    Restore the data directory from a tar.zst archive\n  version    Print version\n")
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting hivegate broker", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store (persistence adapter)
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS: the upstream change-feed bus
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	// Broker core: registry, router, heartbeat monitor, matcher
	b := broker.New(cfg.Broker, db)
	go b.Monitor().Run(ctx)
	slog.Info("heartbeat monitor started",
		"interval", cfg.Broker.HeartbeatInterval, "timeout", cfg.Broker.HeartbeatTimeout)

	// Change-feed relay
	feedClient, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init feed client: %w", err)
	}
	defer feedClient.Close()

	rel := relay.New(feedClient, b.Registry(), b.Router(), db, cfg.Relay)
	if err := rel.Start(ctx); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}

	// Web server: swarm websocket ingress + operational API
	if cfg.Web.Enabled {
		srv := web.NewServer(db, b, rel, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	b.Shutdown()
	return nil
}
