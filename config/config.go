// Package config loads engine-wide configuration: page sizing and
// persistence settings shared by every WorkTable in a process, following
// the teacher engine's yaml.v3-based configuration loading style.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds the tunables a caller may want to set outside of code:
// the per-table-page body size, where index snapshots are persisted, the
// cron schedule for the background persistence flush, and whether
// persisted pages are snappy-compressed.
type EngineConfig struct {
	PageBodySize           int    `yaml:"page_body_size"`
	PersistencePath        string `yaml:"persistence_path"`
	PersistSchedule        string `yaml:"persist_schedule"`
	CompressPersistedPages bool   `yaml:"compress_persisted_pages"`
}

// DefaultEngineConfig returns the defaults Load starts from and falls back
// to for zero-valued fields.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PageBodySize:           8192,
		PersistencePath:        "worktable.idx",
		PersistSchedule:        "@every 1m",
		CompressPersistedPages: false,
	}
}

// Load reads and parses a YAML engine configuration file, filling in any
// zero-valued fields from DefaultEngineConfig.
func Load(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.PageBodySize <= 0 {
		cfg.PageBodySize = DefaultEngineConfig().PageBodySize
	}
	if cfg.PersistencePath == "" {
		cfg.PersistencePath = DefaultEngineConfig().PersistencePath
	}
	if cfg.PersistSchedule == "" {
		cfg.PersistSchedule = DefaultEngineConfig().PersistSchedule
	}
	return cfg, nil
}
