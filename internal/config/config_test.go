package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
extractor:
  source_path: /tmp/in.pcap
  output_path: /tmp/out.csv
  poll_interval: 2s
  write_mode: append
  flow_ttl: 10m
sinks:
  - type: sqlite
    enabled: true
    sqlite:
      path: data/features.db
log:
  level: debug
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Extractor.BatchSize != defaultBatchSize {
		t.Errorf("Batch size should default to %d, got %d", defaultBatchSize, cfg.Extractor.BatchSize)
	}
	if want := pendingBatches * defaultBatchSize; cfg.Extractor.MaxPendingRows != want {
		t.Errorf("Retry backlog should default to %d rows, got %d", want, cfg.Extractor.MaxPendingRows)
	}
	if cfg.Extractor.WriteMode != WriteModeAppend {
		t.Errorf("Write mode should be append, got %s", cfg.Extractor.WriteMode)
	}
	if cfg.Extractor.WindowScope != WindowScopeGlobal {
		t.Errorf("Window scope should default to global, got %s", cfg.Extractor.WindowScope)
	}
	if d, _ := cfg.PollInterval(); d != 2*time.Second {
		t.Errorf("Poll interval should be 2s, got %v", d)
	}
	if d, _ := cfg.FlowTTL(); d != 10*time.Minute {
		t.Errorf("Flow TTL should be 10m, got %v", d)
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0].SQLite.Path != "data/features.db" || ModeOrDefault(cfg.Sinks[0].SQLite.Mode) != WriteModeOverwrite {
		t.Errorf("Unexpected sinks %+v", cfg.Sinks)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Unexpected log config %+v", cfg.Log)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(os.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Errorf("Expected an error for a missing file")
	}
	if _, err := LoadConfig(writeConfig(t, "extractor: [")); err == nil {
		t.Errorf("Expected an error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Extractor.SourcePath = "in.pcap"
		cfg.Extractor.OutputPath = "out.csv"
		return cfg
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("Defaults with paths should be valid: %v", err)
	}

	cases := map[string]func(*Config){
		"missing source": func(c *Config) { c.Extractor.SourcePath = "" },
		"missing output": func(c *Config) { c.Extractor.OutputPath = "" },
		"bad poll":       func(c *Config) { c.Extractor.PollInterval = "soon" },
		"zero poll":      func(c *Config) { c.Extractor.PollInterval = "0s" },
		"negative ttl":   func(c *Config) { c.Extractor.FlowTTL = "-1m" },
		"unknown mode":   func(c *Config) { c.Extractor.WriteMode = "replace" },
		"unknown scope":  func(c *Config) { c.Extractor.WindowScope = "flow" },
		"untyped sink":   func(c *Config) { c.Sinks = []SinkDef{{Enabled: true}} },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", name)
		}
	}
}
