package taskstream

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  address: ":8080"
  log_level: debug
bucket:
  path: /var/lib/taskstream/bucket
  max_size: 1048576
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Write config failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("Expected :8080, got %q", cfg.Server.Address)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Expected debug, got %q", cfg.Server.LogLevel)
	}
	if cfg.Bucket.Path != "/var/lib/taskstream/bucket" {
		t.Errorf("Unexpected bucket path %q", cfg.Bucket.Path)
	}
	if cfg.Bucket.MaxSize != 1048576 {
		t.Errorf("Expected max size 1048576, got %d", cfg.Bucket.MaxSize)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  address: \":9000\"\n"), 0o644); err != nil {
		t.Fatalf("Write config failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Errorf("Expected :9000, got %q", cfg.Server.Address)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("Expected default log level info, got %q", cfg.Server.LogLevel)
	}
	if cfg.Bucket.MaxSize != MaxObjectSize {
		t.Errorf("Expected default max size, got %d", cfg.Bucket.MaxSize)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestConfigLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.LogLevel = "warn"
	logger, err := cfg.Logger()
	if err != nil {
		t.Fatalf("Logger failed: %v", err)
	}
	defer logger.Sync()

	cfg.Server.LogLevel = "not-a-level"
	if _, err := cfg.Logger(); err == nil {
		t.Fatal("Expected error for invalid log level")
	}
}
