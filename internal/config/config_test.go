package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New()
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if cfg.Port() != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.LogLevel() != DefaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel(), DefaultLogLevel)
	}
	if !strings.HasSuffix(cfg.DataDir(), DefaultDataDir) {
		t.Errorf("DataDir = %q, want %q suffix", cfg.DataDir(), DefaultDataDir)
	}
	if cfg.SpriteWorkers() != DefaultSpriteWorkers {
		t.Errorf("SpriteWorkers = %d, want %d", cfg.SpriteWorkers(), DefaultSpriteWorkers)
	}
	if cfg.TranscodeWorkers() != DefaultTranscodeWorkers {
		t.Errorf("TranscodeWorkers = %d, want %d", cfg.TranscodeWorkers(), DefaultTranscodeWorkers)
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvDataDir, "/tmp/reelcut-test")
	t.Setenv(EnvSpriteWorkers, "5")
	t.Setenv(EnvTranscodeWorkers, "4")
	t.Setenv(EnvUploadURL, "https://ingest.example.com/reels")
	t.Setenv(EnvUploadToken, "tok")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if cfg.Port() != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port())
	}
	if cfg.LogLevel() != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel())
	}
	if cfg.DataDir() != "/tmp/reelcut-test" {
		t.Errorf("DataDir = %q", cfg.DataDir())
	}
	if cfg.SpriteWorkers() != 5 || cfg.TranscodeWorkers() != 4 {
		t.Errorf("workers = %d/%d, want 5/4", cfg.SpriteWorkers(), cfg.TranscodeWorkers())
	}
	if cfg.UploadURL() != "https://ingest.example.com/reels" || cfg.UploadToken() != "tok" {
		t.Errorf("upload config = %q / %q", cfg.UploadURL(), cfg.UploadToken())
	}
}

func TestNew_InvalidValues(t *testing.T) {
	t.Setenv(EnvPort, "not-a-port")
	if _, err := New(); err == nil {
		t.Error("expected error for non-numeric port")
	}

	t.Setenv(EnvPort, "70000")
	if _, err := New(); err == nil {
		t.Error("expected error for out-of-range port")
	}

	t.Setenv(EnvPort, "8791")
	t.Setenv(EnvSpriteWorkers, "0")
	if _, err := New(); err == nil {
		t.Error("expected error for zero sprite workers")
	}
}

func TestDerivedPaths(t *testing.T) {
	t.Setenv(EnvDataDir, "/data/reelcut")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if got := cfg.DBPath(); got != filepath.Join("/data/reelcut", DBFilename) {
		t.Errorf("DBPath = %q", got)
	}
	if got := cfg.SpriteCacheDir(); got != filepath.Join("/data/reelcut", "cache", "sprites") {
		t.Errorf("SpriteCacheDir = %q", got)
	}
	if got := cfg.ScratchDir(); got != filepath.Join("/data/reelcut", "scratch") {
		t.Errorf("ScratchDir = %q", got)
	}
}
