package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "alias-key")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Backend != "gemini" {
		t.Errorf("Backend = %q, want gemini", cfg.Backend)
	}
	if cfg.TextModel != "gemini-2.5-flash" {
		t.Errorf("TextModel = %q", cfg.TextModel)
	}
	if cfg.VisionModel != "gemini-2.5-flash-image" {
		t.Errorf("VisionModel = %q", cfg.VisionModel)
	}
	if cfg.APIKey != "alias-key" {
		t.Errorf("APIKey = %q, want API_KEY fallback", cfg.APIKey)
	}
	if cfg.WeatherRefresh != 15*time.Minute {
		t.Errorf("WeatherRefresh = %s, want 15m", cfg.WeatherRefresh)
	}
	if cfg.MinIO.Bucket != "neuna" {
		t.Errorf("MinIO.Bucket = %q", cfg.MinIO.Bucket)
	}
}

func TestParseRejectsUnknownBackend(t *testing.T) {
	t.Setenv("NEUNA_BACKEND", "carrier-pigeon")
	if _, err := Parse(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestParseRejectsUnknownStore(t *testing.T) {
	t.Setenv("NEUNA_STORE", "floppy")
	if _, err := Parse(); err == nil {
		t.Fatal("expected error for unknown store")
	}
}

func TestPathsOverride(t *testing.T) {
	dir := t.TempDir()
	p, err := GetPaths(dir)
	if err != nil {
		t.Fatalf("GetPaths: %v", err)
	}
	if p.StateDir != filepath.Join(dir, "state") {
		t.Errorf("StateDir = %q", p.StateDir)
	}
	if err := p.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	cfg := &Config{}
	if got := cfg.LogFilePath(p); got != filepath.Join(dir, "logs", "neuna.log") {
		t.Errorf("LogFilePath = %q", got)
	}
}
