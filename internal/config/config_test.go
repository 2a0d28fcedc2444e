// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Covers defaults, file overrides, env overrides, and bound checks

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/weftwork/weft/pkg/types"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected defaults, got %v", err)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "console" {
		t.Errorf("Expected default logging, got %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.MaxWorkflowConcurrency != types.DefaultWorkflowConcurrency {
		t.Errorf("Expected default concurrency, got %d", cfg.MaxWorkflowConcurrency)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Expected default listen address, got %s", cfg.Listen)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weft.yaml")
	content := `
log_level: debug
log_format: json
database_path: /var/lib/weft/weft.db
max_workflow_concurrency: 8
environment:
  REGION: eu-west-1
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected load, got %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("Expected file logging overrides, got %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.MaxWorkflowConcurrency != 8 {
		t.Errorf("Expected concurrency 8, got %d", cfg.MaxWorkflowConcurrency)
	}
	if cfg.Environment["REGION"] != "eu-west-1" {
		t.Errorf("Expected environment map, got %v", cfg.Environment)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("WEFT_LOG_LEVEL", "warn")
	t.Setenv("WEFT_MAX_WORKFLOW_CONCURRENCY", "4")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("Expected env log level, got %s", cfg.LogLevel)
	}
	if cfg.MaxWorkflowConcurrency != 4 {
		t.Errorf("Expected env concurrency, got %d", cfg.MaxWorkflowConcurrency)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load("/nonexistent/weft.yaml"); err == nil {
		t.Fatal("Expected error for explicit missing file")
	}
}

func TestValidate_Bounds(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"concurrency too high", func(c *Config) { c.MaxWorkflowConcurrency = types.MaxConcurrency + 1 }},
		{"negative queue", func(c *Config) { c.EventQueueSize = -1 }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tc := range cases {
		cfg := &Config{MaxWorkflowConcurrency: 8, EventQueueSize: 16, LogFormat: "console"}
		tc.mut(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
