package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestManagerCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg := m.Get()
	if cfg.PreferredBackend != "auto" {
		t.Errorf("PreferredBackend = %q, want auto", cfg.PreferredBackend)
	}
	if cfg.Encoder.VideoCodec != "libx264" || cfg.Encoder.CRF != 23 {
		t.Errorf("encoder defaults = %+v", cfg.Encoder)
	}
	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("defaults were not persisted: %v", err)
	}
}

func TestManagerUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	err = m.Update(func(s *Settings) {
		s.PreferredBackend = "wf-recorder"
		s.Encoder.CRF = 18
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager reload: %v", err)
	}
	cfg := reloaded.Get()
	if cfg.PreferredBackend != "wf-recorder" {
		t.Errorf("PreferredBackend = %q after reload, want wf-recorder", cfg.PreferredBackend)
	}
	if cfg.Encoder.CRF != 18 {
		t.Errorf("Encoder.CRF = %d after reload, want 18", cfg.Encoder.CRF)
	}
}

func TestManagerPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	// Unspecified fields fall back to defaults.
	if cfg.Encoder.Container != "mp4" {
		t.Errorf("Encoder.Container = %q, want mp4 default", cfg.Encoder.Container)
	}
}

func TestSetLogLevelAndPortDoNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.SetLogLevel("debug")
	m.SetPort(9090)

	cfg := m.Get()
	if cfg.LogLevel != "debug" || cfg.ServerPort != 9090 {
		t.Errorf("overrides not applied in memory: %+v", cfg)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager reload: %v", err)
	}
	if got := reloaded.Get().ServerPort; got != 8080 {
		t.Errorf("ServerPort = %d after reload, want 8080 (flag overrides are runtime-only)", got)
	}
}
