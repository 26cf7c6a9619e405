package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keytrack.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Session.PauseThreshold != "40s" {
		t.Errorf("Expected 40s pause threshold, got %s", cfg.Session.PauseThreshold)
	}
	if cfg.Persistence.FlushInterval != "20s" || cfg.Persistence.MaxRetries != 5 {
		t.Errorf("Unexpected persistence defaults: %+v", cfg.Persistence)
	}
	if cfg.Lights.Strip.Count != 144 || cfg.Lights.FrameRate != 30 {
		t.Errorf("Unexpected lights defaults: %+v", cfg.Lights)
	}
	if cfg.Storage.Type != "sqlite" {
		t.Errorf("Expected sqlite storage, got %s", cfg.Storage.Type)
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
storage:
  type: redis
  redis:
    host: redis.local
    retention_days: 30
lights:
  strip:
    type: serial
    device: /dev/ttyUSB1
    count: 60
session:
  pause_threshold: 1m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Storage.Type != "redis" || cfg.Storage.Redis.Host != "redis.local" {
		t.Errorf("Unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Storage.Redis.Port != 6379 {
		t.Errorf("Expected default redis port to survive, got %d", cfg.Storage.Redis.Port)
	}
	if cfg.Lights.Strip.Device != "/dev/ttyUSB1" || cfg.Lights.Strip.Count != 60 {
		t.Errorf("Unexpected strip config: %+v", cfg.Lights.Strip)
	}
	if cfg.Session.PauseThreshold != "1m" {
		t.Errorf("Expected 1m pause threshold, got %s", cfg.Session.PauseThreshold)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("KEYTRACK_PERSISTENCE_FLUSH_INTERVAL", "5s")
	t.Setenv("KEYTRACK_LOGGING_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Persistence.FlushInterval != "5s" {
		t.Errorf("Expected env flush interval 5s, got %s", cfg.Persistence.FlushInterval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected env log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad storage type", "storage:\n  type: postgres\n", "unsupported storage type"},
		{"bad strip type", "lights:\n  strip:\n    type: spi\n", "unsupported strip type"},
		{"bad pause threshold", "session:\n  pause_threshold: soon\n", "session.pause_threshold"},
		{"zero flush interval", "persistence:\n  flush_interval: 0s\n", "must be positive"},
		{"bad retention time", "persistence:\n  retention_time: \"25:00\"\n", "retention_time"},
		{"bad api port", "server:\n  api_port: 70000\n", "invalid API port"},
		{"bad log format", "logging:\n  format: xml\n", "unsupported logging format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
session:
  pause_threshold: 40s
  pause_treshold: 30s
lights:
  colour: red
`)

	unknown, err := UnknownKeys(path)
	if err != nil {
		t.Fatalf("UnknownKeys failed: %v", err)
	}

	want := map[string]bool{"session.pause_treshold": true, "lights.colour": true}
	if len(unknown) != len(want) {
		t.Fatalf("Expected %d unknown keys, got %v", len(want), unknown)
	}
	for _, key := range unknown {
		if !want[key] {
			t.Errorf("Unexpected unknown key %s", key)
		}
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := validate(cfg); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}
}
