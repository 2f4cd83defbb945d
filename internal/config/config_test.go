package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Broker.HeartbeatInterval != 30*time.Second {
		t.Errorf("expected heartbeat_interval 30s, got %v", cfg.Broker.HeartbeatInterval)
	}
	if cfg.Broker.HeartbeatTimeout != 60*time.Second {
		t.Errorf("expected heartbeat_timeout 60s, got %v", cfg.Broker.HeartbeatTimeout)
	}
	if !cfg.Broker.AuditMessages {
		t.Error("expected audit_messages enabled by default")
	}
	if cfg.Relay.QueueSize != 1024 {
		t.Errorf("expected relay queue_size 1024, got %d", cfg.Relay.QueueSize)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Store.Path != "data/hivegate.db" {
		t.Errorf("expected store path data/hivegate.db, got %s", cfg.Store.Path)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Point config to a non-existent file so we use defaults
	t.Setenv("HIVEGATE_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("HIVEGATE_WEB_PASSWORD", "secret")
	t.Setenv("HIVEGATE_WEB_PORT", "9090")
	t.Setenv("HIVEGATE_HEARTBEAT_INTERVAL", "5s")
	t.Setenv("HIVEGATE_HEARTBEAT_TIMEOUT", "12s")
	t.Setenv("HIVEGATE_RELAY_QUEUE_SIZE", "64")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Broker.HeartbeatInterval != 5*time.Second {
		t.Errorf("expected heartbeat_interval 5s, got %v", cfg.Broker.HeartbeatInterval)
	}
	if cfg.Broker.HeartbeatTimeout != 12*time.Second {
		t.Errorf("expected heartbeat_timeout 12s, got %v", cfg.Broker.HeartbeatTimeout)
	}
	if cfg.Relay.QueueSize != 64 {
		t.Errorf("expected relay queue_size 64, got %d", cfg.Relay.QueueSize)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
broker:
  heartbeat_interval: 10s
  heartbeat_timeout: 20s
  audit_messages: false
relay:
  queue_size: 256
web:
  port: 3000
  enabled: false
store:
  path: "/custom/hivegate.db"
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HIVEGATE_CONFIG", cfgPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Broker.HeartbeatInterval != 10*time.Second {
		t.Errorf("expected heartbeat_interval 10s, got %v", cfg.Broker.HeartbeatInterval)
	}
	if cfg.Broker.AuditMessages {
		t.Error("expected audit_messages disabled")
	}
	if cfg.Relay.QueueSize != 256 {
		t.Errorf("expected relay queue_size 256, got %d", cfg.Relay.QueueSize)
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
	if cfg.Store.Path != "/custom/hivegate.db" {
		t.Errorf("expected /custom/hivegate.db, got %s", cfg.Store.Path)
	}
}
