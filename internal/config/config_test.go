package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device != "pipe:windbg" {
		t.Errorf("default device = %q", cfg.Device)
	}
	if cfg.Tap.Enabled {
		t.Error("tap should default off")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "winkd.yaml")
	content := `
device: tcp:127.0.0.1:5005
debug: true
tap:
  enabled: true
  dir: /var/log/winkd
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device != "tcp:127.0.0.1:5005" {
		t.Errorf("device = %q", cfg.Device)
	}
	if !cfg.Debug || !cfg.Tap.Enabled {
		t.Error("flags not parsed")
	}
	if cfg.Tap.Dir != "/var/log/winkd" {
		t.Errorf("tap dir = %q", cfg.Tap.Dir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/winkd.yaml"); err == nil {
		t.Error("explicit missing config should error")
	}
}
