// Package api exposes the engine over a local HTTP surface: clip
// ingest and arrangement, transition and audio configuration, export
// and upload job control.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/reelcut/reelcut-engine/internal/clips"
	"github.com/reelcut/reelcut-engine/internal/status"
)

// ExportEngine is the render job surface the handlers drive.
type ExportEngine interface {
	Export(ctx context.Context, outputPath string) (*clips.Job, error)
	Cancel(ctx context.Context, jobID string) error
	ActiveJobID() string
}

// UploadStage delivers finished export artifacts.
type UploadStage interface {
	Start(ctx context.Context, exportJobID string) (*clips.Job, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port        int
	ClipService *clips.Service
	Repository  clips.Repository
	Engine      ExportEngine
	Uploader    UploadStage
	Surface     *status.Surface
	Logger      *slog.Logger
	StartTime   time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
