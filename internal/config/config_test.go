package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no config.yml is picked up.
	dir := t.TempDir()
	wd, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(wd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with no config file should use defaults, got error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("default port: got %d, want 8080", cfg.Port)
	}
	if cfg.Throttle.BatchSize != 500 {
		t.Errorf("default batch size: got %d, want 500", cfg.Throttle.BatchSize)
	}
	if cfg.Throttle.RequestsPerSecond != -1 {
		t.Errorf("default requests_per_second: got %v, want -1 (unlimited)", cfg.Throttle.RequestsPerSecond)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("port: 9999\nthrottle:\n  requests_per_second: 250\n  batch_size: 50\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yml"), content, 0644); err != nil {
		t.Fatal(err)
	}
	wd, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(wd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("port: got %d, want 9999", cfg.Port)
	}
	if cfg.Throttle.RequestsPerSecond != 250 {
		t.Errorf("requests_per_second: got %v, want 250", cfg.Throttle.RequestsPerSecond)
	}
	if cfg.Throttle.BatchSize != 50 {
		t.Errorf("batch_size: got %d, want 50", cfg.Throttle.BatchSize)
	}
}
