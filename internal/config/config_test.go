package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "devagent.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
device:
  uid: "dev-1"
  token: "secret"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Device.Address != "things.zerynth.com" {
		t.Fatalf("expected default address, got %q", cfg.Device.Address)
	}
	if cfg.Device.Port != 12345 {
		t.Fatalf("expected default port 12345, got %d", cfg.Device.Port)
	}
	if cfg.Device.HeartbeatRequestedS != 60 {
		t.Fatalf("expected default heartbeat 60, got %d", cfg.Device.HeartbeatRequestedS)
	}
	if cfg.FOTA.ChunkSize != 2048 {
		t.Fatalf("expected default chunk size 2048, got %d", cfg.FOTA.ChunkSize)
	}
	if cfg.Logs.RetentionDays != 14 {
		t.Fatalf("expected default retention 14, got %d", cfg.Logs.RetentionDays)
	}
	if cfg.Debug.Addr != "127.0.0.1:8081" {
		t.Fatalf("expected default debug addr, got %q", cfg.Debug.Addr)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
device:
  uid: "dev-1"
  token: "secret"
  address: "custom.example.com"
  port: 9999
fota:
  chunk_size: 512
debug:
  enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Device.Address != "custom.example.com" {
		t.Fatalf("expected overridden address, got %q", cfg.Device.Address)
	}
	if cfg.Device.Port != 9999 {
		t.Fatalf("expected overridden port, got %d", cfg.Device.Port)
	}
	if cfg.FOTA.ChunkSize != 512 {
		t.Fatalf("expected overridden chunk size, got %d", cfg.FOTA.ChunkSize)
	}
	if cfg.Debug.Enabled {
		t.Fatal("expected debug.enabled overridden to false")
	}
}

func TestLoadMissingUIDOrTokenFails(t *testing.T) {
	path := writeTempConfig(t, `
device:
  address: "things.zerynth.com"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when uid/token are missing")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
