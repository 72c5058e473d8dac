// Package sprites produces the scrub-preview sprite sheets: for every
// newly added clip it probes duration and extracts the fixed frame grid
// into the sprite cache, off the caller's goroutine and with bounded
// concurrency so a big batch never saturates disk and CPU.
package sprites

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/reelcut/reelcut-engine/internal/clips"
	"github.com/reelcut/reelcut-engine/internal/ffmpeg"
)

type Generator struct {
	repo      clips.Repository
	tool      ffmpeg.FFmpeg
	spriteDir string
	logger    *slog.Logger
	sem       *semaphore.Weighted

	mu       sync.Mutex
	base     context.Context
	cancel   context.CancelFunc
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewGenerator(repo clips.Repository, tool ffmpeg.FFmpeg, spriteDir string, workers int, logger *slog.Logger) *Generator {
	if workers < 1 {
		workers = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &Generator{
		repo:      repo,
		tool:      tool,
		spriteDir: spriteDir,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(workers)),
		base:      base,
		cancel:    cancel,
		inflight:  make(map[string]context.CancelFunc),
	}
}

// RequeuePending schedules generation for clips left unfinished by a
// previous session. Ready clips keep their cached sheets.
func (g *Generator) RequeuePending(ctx context.Context) error {
	all, err := g.repo.ListClips(ctx)
	if err != nil {
		return err
	}
	requeued := 0
	for _, c := range all {
		if c.Status == clips.ClipStatusPending || c.Status == clips.ClipStatusLoading {
			g.Enqueue(c.ID)
			requeued++
		}
	}
	if g.logger != nil && requeued > 0 {
		g.logger.Info("requeued unfinished sprite jobs", "count", requeued)
	}
	return nil
}

// Enqueue schedules sprite generation for a clip. The work runs on its
// own goroutine gated by the worker semaphore; completion order is not
// request order.
func (g *Generator) Enqueue(clipID string) {
	g.mu.Lock()
	if _, active := g.inflight[clipID]; active {
		g.mu.Unlock()
		return
	}
	clipCtx, clipCancel := context.WithCancel(g.base)
	g.inflight[clipID] = clipCancel
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer func() {
			g.mu.Lock()
			delete(g.inflight, clipID)
			g.mu.Unlock()
			clipCancel()
		}()

		if err := g.sem.Acquire(clipCtx, 1); err != nil {
			return // cancelled while queued
		}
		defer g.sem.Release(1)

		g.process(clipCtx, clipID)
	}()
}

// Cancel abandons in-flight generation for a removed clip. Safe to call
// for clips with no active work.
func (g *Generator) Cancel(clipID string) {
	g.mu.Lock()
	cancel, ok := g.inflight[clipID]
	g.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close stops all workers and waits for them to unwind.
func (g *Generator) Close() {
	g.cancel()
	g.wg.Wait()
}

func (g *Generator) process(ctx context.Context, clipID string) {
	clip, err := g.repo.GetClip(ctx, clipID)
	if err != nil || clip == nil {
		return // removed before work started
	}
	if clip.Status == clips.ClipStatusReady {
		return // cached sheet from a previous session
	}

	g.repo.UpdateClipStatus(ctx, clipID, clips.ClipStatusLoading, "")

	probe, err := g.tool.Probe(ctx, clip.Path)
	if err != nil {
		g.fail(ctx, clipID, clip.Path, err)
		return
	}

	spritePath := filepath.Join(g.spriteDir, clipID+".jpg")
	if err := g.tool.SpriteSheet(ctx, clip.Path, probe.Duration, spritePath); err != nil {
		g.fail(ctx, clipID, clip.Path, err)
		return
	}

	if err := g.repo.UpdateClipMedia(ctx, clipID, probe.Duration, probe.HasAudio, spritePath); err != nil {
		g.fail(ctx, clipID, clip.Path, err)
		return
	}
	g.repo.UpdateClipStatus(ctx, clipID, clips.ClipStatusReady, "")

	if g.logger != nil {
		g.logger.Info("sprite sheet generated",
			"clip_id", clipID,
			"duration_s", probe.Duration,
			"sprite", spritePath,
		)
	}
}

// fail marks a single clip failed without touching its siblings. A clip
// removed mid-generation is abandoned silently.
func (g *Generator) fail(ctx context.Context, clipID, path string, err error) {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return
	}
	// Status writes use the background context: the per-clip context
	// may already be dead while the row must still record the failure.
	g.repo.UpdateClipStatus(context.Background(), clipID, clips.ClipStatusFailed, err.Error())
	if g.logger != nil {
		g.logger.Warn("sprite generation failed", "clip_id", clipID, "path", path, "error", err)
	}
}
