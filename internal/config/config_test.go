package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("expected default http address %s, got %s", defaultHTTPAddress, cfg.HTTPAddress)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Fatalf("expected default log level %s, got %s", defaultLogLevel, cfg.LogLevel)
	}
	if cfg.ShutdownGracePeriod != defaultShutdownGracePeriod {
		t.Fatalf("expected default grace %s, got %s", defaultShutdownGracePeriod, cfg.ShutdownGracePeriod)
	}
	if cfg.Gateway.HistoryPageSize != defaultHistoryPageSize {
		t.Fatalf("expected default page size %d, got %d", defaultHistoryPageSize, cfg.Gateway.HistoryPageSize)
	}
	if cfg.Gateway.HeartbeatTimeout != defaultHeartbeatTimeout {
		t.Fatalf("expected default heartbeat timeout %s, got %s", defaultHeartbeatTimeout, cfg.Gateway.HeartbeatTimeout)
	}
	if cfg.Notify.RoutingKey != defaultNotifyRoutingKey {
		t.Fatalf("expected default routing key %s, got %s", defaultNotifyRoutingKey, cfg.Notify.RoutingKey)
	}
}

func TestLoadWithFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(`
http_address: "127.0.0.1:7001"
log_level: "debug"
shutdown_grace_period: "5s"
codec:
  key: "file-key"
gateway:
  heartbeat_interval: "10s"
  send_buffer: 16
notify:
  workers: 4
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MESSAGING_HTTP_ADDRESS", ":6000")
	t.Setenv("MESSAGING_AUTH_JWT_SECRET", "env-secret")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPAddress != ":6000" {
		t.Fatalf("expected env override for http address, got %s", cfg.HTTPAddress)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.ShutdownGracePeriod != 5*time.Second {
		t.Fatalf("expected grace 5s, got %s", cfg.ShutdownGracePeriod)
	}
	if cfg.Gateway.HeartbeatInterval != 10*time.Second {
		t.Fatalf("expected heartbeat interval 10s, got %s", cfg.Gateway.HeartbeatInterval)
	}
	if cfg.Gateway.SendBuffer != 16 {
		t.Fatalf("expected send buffer 16, got %d", cfg.Gateway.SendBuffer)
	}
	if cfg.Notify.Workers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.Notify.Workers)
	}
	if cfg.Codec.Key != "file-key" {
		t.Fatalf("expected codec key from file, got %q", cfg.Codec.Key)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Fatalf("expected jwt secret from env, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("MESSAGING_GATEWAY_OP_TIMEOUT", "soon")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing jwt secret to fail validation")
	}

	cfg.Auth.JWTSecret = "secret"
	cfg.Codec.Passphrase = "passphrase"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected passphrase without salt to fail validation")
	}

	cfg.Codec.Salt = "salt"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
