package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "engine.yaml")
	if err := os.WriteFile(p, []byte("persistence_path: custom.idx\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PersistencePath != "custom.idx" {
		t.Fatalf("persistence path = %q", cfg.PersistencePath)
	}
	if cfg.PageBodySize != DefaultEngineConfig().PageBodySize {
		t.Fatalf("page body size not defaulted: %d", cfg.PageBodySize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
