package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8099" {
		t.Fatalf("expected default addr, got %q", cfg.HTTPAddr)
	}
	if cfg.StreamURL != "http://localhost:8001/v1/api/stream/" {
		t.Fatalf("expected stream url derived from base, got %q", cfg.StreamURL)
	}
	if cfg.APITimeout != 15*time.Second {
		t.Fatalf("expected 15s timeout, got %s", cfg.APITimeout)
	}
	if cfg.StreamTransport != TransportSSE {
		t.Fatalf("expected sse transport, got %q", cfg.StreamTransport)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "API_BASE_URL: http://clinic.test/api/\nSTREAM_TRANSPORT: websocket\nNOTIFICATION_RETENTION: 2h\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("STREAM_MAX_RECONNECTS", "5")
	t.Setenv("SESSION_REMOTE", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIBaseURL != "http://clinic.test/api" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.APIBaseURL)
	}
	if cfg.StreamTransport != TransportWebSocket {
		t.Fatalf("expected websocket transport, got %q", cfg.StreamTransport)
	}
	if cfg.NotificationRetention != 2*time.Hour {
		t.Fatalf("expected 2h retention, got %s", cfg.NotificationRetention)
	}
	if cfg.StreamMaxReconnects != 5 {
		t.Fatalf("expected 5 reconnects from env, got %d", cfg.StreamMaxReconnects)
	}
	if !cfg.SessionRemote {
		t.Fatal("expected SESSION_REMOTE from env")
	}
}

func TestValidate_RejectsUnknownTransport(t *testing.T) {
	cfg := Config{
		APIBaseURL:        "http://x",
		StreamTransport:   "carrier-pigeon",
		NotificationStore: StoreSQLite,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestValidate_RejectsUnknownStore(t *testing.T) {
	cfg := Config{
		APIBaseURL:        "http://x",
		StreamTransport:   TransportSSE,
		NotificationStore: "memcached",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown store")
	}
}
