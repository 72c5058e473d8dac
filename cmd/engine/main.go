package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reelcut/reelcut-engine/internal/api"
	"github.com/reelcut/reelcut-engine/internal/clips"
	"github.com/reelcut/reelcut-engine/internal/config"
	"github.com/reelcut/reelcut-engine/internal/db"
	"github.com/reelcut/reelcut-engine/internal/ffmpeg"
	"github.com/reelcut/reelcut-engine/internal/logging"
	"github.com/reelcut/reelcut-engine/internal/render"
	"github.com/reelcut/reelcut-engine/internal/sprites"
	"github.com/reelcut/reelcut-engine/internal/status"
	"github.com/reelcut/reelcut-engine/internal/upload"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.SpriteCacheDir(), 0755); err != nil {
		return fmt.Errorf("failed to create sprite cache dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ScratchDir(), 0755); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting reelcut engine", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := clips.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                  REELCUT ENGINE v%-7s                  ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	tool, err := ffmpeg.NewTool(ffmpeg.ToolConfig{
		FFmpegPath:  cfg.FFmpegPath(),
		FFprobePath: cfg.FFprobePath(),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("encoder tools unavailable: %w", err)
	}

	surface := status.NewSurface()
	clipSvc := clips.NewService(repo, logger)

	generator := sprites.NewGenerator(repo, tool, cfg.SpriteCacheDir(), cfg.SpriteWorkers(), logger)
	clipSvc.SetSpriteQueue(generator)
	defer generator.Close()

	// Pick up clips whose sprite sheets never finished last session.
	if err := generator.RequeuePending(context.Background()); err != nil {
		logger.Warn("failed to requeue unfinished clips", "error", err)
	}

	engine := render.NewEngine(repo, clipSvc, tool, surface, cfg.ScratchDir(), cfg.TranscodeWorkers(), logger)
	uploader := upload.NewUploader(repo, surface, cfg.UploadURL(), cfg.UploadToken(), logger)

	apiServer := api.NewServer(api.ServerConfig{
		Port:        cfg.Port(),
		ClipService: clipSvc,
		Repository:  repo,
		Engine:      engine,
		Uploader:    uploader,
		Surface:     surface,
		Logger:      logger,
		StartTime:   startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	logger.Info("initiating graceful shutdown")

	// An export mid-flight is cancelled, not awaited: its job row flips
	// to cancelled and the startup sweep covers anything we miss.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := engine.Cancel(shutdownCtx, ""); err != nil {
		logger.Error("failed to cancel active export", "error", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(repo clips.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
