// Package config loads the YAML file devagent is started with (adapted
// from the teacher's config.Load — same "zero-value defaults, then
// yaml.Unmarshal over them" shape, generalized from fleet/discovery
// settings to device-agent settings).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of devagent.yaml.
type Config struct {
	Device DeviceConfig `yaml:"device"`
	FOTA   FOTAConfig   `yaml:"fota"`
	Logs   LogsConfig   `yaml:"logs"`
	Debug  DebugConfig  `yaml:"debug"`
}

// DeviceConfig holds the session-level identity and transport parameters
// (spec.md §3).
type DeviceConfig struct {
	UID                 string `yaml:"uid"`
	Token               string `yaml:"token"`
	Address             string `yaml:"address"`
	IP                  string `yaml:"ip"`
	Port                int    `yaml:"port"`
	HeartbeatRequestedS int    `yaml:"heartbeat_requested_s"`
	LowRes              bool   `yaml:"low_res"`
}

// FOTAConfig sizes the in-memory flash simulator (internal/fotastore) used
// when no real bootloader collaborator is wired in, and by the
// simulate-fota CLI subcommand.
type FOTAConfig struct {
	BytecodeSlotSize int64  `yaml:"bytecode_slot_size"`
	VMSlotSize       int64  `yaml:"vm_slot_size"`
	ChunkSize        int64  `yaml:"chunk_size"`
	VMUID            string `yaml:"vm_uid"`
	Platform         string `yaml:"platform"`
}

// LogsConfig controls the rotating audit log (internal/audit).
type LogsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// DebugConfig controls the loopback debug HTTP API (internal/debugapi),
// which also mounts the Prometheus /metrics endpoint (SPEC_FULL.md §9.6).
type DebugConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses path, applying defaults first so a sparse config
// file only needs to override what it cares about.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{
		Device: DeviceConfig{
			Address:             "things.zerynth.com",
			Port:                12345,
			HeartbeatRequestedS: 60,
		},
		FOTA: FOTAConfig{
			BytecodeSlotSize: 256 * 1024,
			VMSlotSize:       512 * 1024,
			ChunkSize:        2048,
			VMUID:            "simulated-vm",
			Platform:         "simulated",
		},
		Logs: LogsConfig{
			Enabled:       true,
			Path:          "/var/log/devagent",
			RetentionDays: 14,
		},
		Debug: DebugConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8081",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Device.UID == "" || cfg.Device.Token == "" {
		return nil, fmt.Errorf("config: device.uid and device.token are required")
	}

	return cfg, nil
}
