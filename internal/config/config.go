// Package config provides configuration management for the reelcut engine.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	// Default values
	DefaultPort     = 8791
	DefaultLogLevel = "info"
	DefaultDataDir  = ".reelcut"

	// Environment variable names
	EnvPort     = "REELCUT_PORT"
	EnvLogLevel = "REELCUT_LOG_LEVEL"
	EnvDataDir  = "REELCUT_DATA_DIR"

	// Encoder environment variable names
	EnvFFmpeg           = "REELCUT_FFMPEG"
	EnvFFprobe          = "REELCUT_FFPROBE"
	EnvSpriteWorkers    = "REELCUT_SPRITE_WORKERS"
	EnvTranscodeWorkers = "REELCUT_TRANSCODE_WORKERS"

	// Upload environment variable names
	EnvUploadURL   = "REELCUT_UPLOAD_URL"
	EnvUploadToken = "REELCUT_UPLOAD_TOKEN"

	// Database filename
	DBFilename = "reelcut.db"

	// Worker pool defaults. Sprite probes are disk bound, transcodes
	// saturate cores quickly, so both stay small.
	DefaultSpriteWorkers    = 3
	DefaultTranscodeWorkers = 2
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	SpriteCacheDir() string
	ScratchDir() string
	FFmpegPath() string
	FFprobePath() string
	SpriteWorkers() int
	TranscodeWorkers() int
	UploadURL() string
	UploadToken() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	ffmpegPath       string
	ffprobePath      string
	spriteWorkers    int
	transcodeWorkers int

	uploadURL   string
	uploadToken string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:             DefaultPort,
		logLevel:         DefaultLogLevel,
		dataDir:          defaultDataDir(),
		spriteWorkers:    DefaultSpriteWorkers,
		transcodeWorkers: DefaultTranscodeWorkers,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.ffmpegPath = os.Getenv(EnvFFmpeg)
	cfg.ffprobePath = os.Getenv(EnvFFprobe)

	if sw := os.Getenv(EnvSpriteWorkers); sw != "" {
		n, err := strconv.Atoi(sw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvSpriteWorkers)
		}
		cfg.spriteWorkers = n
	}

	if tw := os.Getenv(EnvTranscodeWorkers); tw != "" {
		n, err := strconv.Atoi(tw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvTranscodeWorkers)
		}
		cfg.transcodeWorkers = n
	}

	cfg.uploadURL = os.Getenv(EnvUploadURL)
	cfg.uploadToken = os.Getenv(EnvUploadToken)

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// SpriteCacheDir returns the directory holding one sprite sheet per clip
func (c *EnvConfig) SpriteCacheDir() string {
	return filepath.Join(c.dataDir, "cache", "sprites")
}

// ScratchDir returns the directory for intermediate render artifacts
func (c *EnvConfig) ScratchDir() string {
	return filepath.Join(c.dataDir, "scratch")
}

// FFmpegPath returns the configured ffmpeg binary, empty for PATH lookup
func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

// FFprobePath returns the configured ffprobe binary, empty for PATH lookup
func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) SpriteWorkers() int {
	return c.spriteWorkers
}

func (c *EnvConfig) TranscodeWorkers() int {
	return c.transcodeWorkers
}

func (c *EnvConfig) UploadURL() string {
	return c.uploadURL
}

func (c *EnvConfig) UploadToken() string {
	return c.uploadToken
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
