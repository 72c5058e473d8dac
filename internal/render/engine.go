package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reelcut/reelcut-engine/internal/clips"
	"github.com/reelcut/reelcut-engine/internal/ffmpeg"
	"github.com/reelcut/reelcut-engine/internal/status"
)

// ErrExportActive means an export job is already running. At most one
// export runs at a time; a second request is rejected, not queued.
var ErrExportActive = errors.New("an export is already in progress")

// Engine is the export pipeline: it snapshots the store, resolves the
// plan, fans per-clip transcodes out to a bounded worker set, then runs
// the strictly sequential final mux. Progress is a weighted sum: each
// segment weighs its trimmed duration, the mux weighs the total output
// duration, so the exposed fraction tracks wall clock roughly linearly.
type Engine struct {
	repo       clips.Repository
	store      *clips.Service
	tool       ffmpeg.FFmpeg
	surface    *status.Surface
	scratchDir string
	workers    int
	logger     *slog.Logger

	mu           sync.Mutex
	activeID     string
	activeCancel context.CancelFunc
	activeDone   chan struct{}
}

func NewEngine(repo clips.Repository, store *clips.Service, tool ffmpeg.FFmpeg, surface *status.Surface, scratchDir string, workers int, logger *slog.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		repo:       repo,
		store:      store,
		tool:       tool,
		surface:    surface,
		scratchDir: scratchDir,
		workers:    workers,
		logger:     logger,
	}
}

// Export starts a render to outputPath and returns the job handle. The
// job owns a private snapshot of the store; later edits do not affect
// the running render.
func (e *Engine) Export(ctx context.Context, outputPath string) (*clips.Job, error) {
	if outputPath == "" {
		return nil, fmt.Errorf("output path is required")
	}
	absOut, err := filepath.Abs(outputPath)
	if err != nil {
		return nil, fmt.Errorf("invalid output path: %w", err)
	}

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.activeID != "" {
		e.mu.Unlock()
		return nil, ErrExportActive
	}

	job, err := newJob(ctx, e.repo, clips.JobTypeExport, clips.JobStatusRendering, absOut, "")
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	e.activeID = job.ID
	e.activeCancel = cancel
	e.activeDone = make(chan struct{})
	done := e.activeDone
	e.mu.Unlock()

	go func() {
		defer close(done)
		e.run(jobCtx, job, snap)

		e.mu.Lock()
		e.activeID = ""
		e.activeCancel = nil
		e.activeDone = nil
		e.mu.Unlock()
		cancel()
	}()

	return job, nil
}

// Cancel terminates the active export's subprocesses and waits for the
// job to reach its terminal state. Cancelling a job that already
// finished is a no-op.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	e.mu.Lock()
	if e.activeID == "" || (jobID != "" && jobID != e.activeID) {
		e.mu.Unlock()
		// Terminal or unknown job: cancellation is idempotent.
		return nil
	}
	cancel := e.activeCancel
	done := e.activeDone
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveJobID returns the running export's id, empty when idle.
func (e *Engine) ActiveJobID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeID
}

func (e *Engine) run(ctx context.Context, job *clips.Job, snap *clips.Snapshot) {
	scratch := filepath.Join(e.scratchDir, job.ID)
	if err := os.MkdirAll(scratch, 0755); err != nil {
		e.fail(job, fmt.Errorf("cannot create scratch dir: %w", err))
		return
	}
	// Intermediate artifacts are never user-visible output.
	defer os.RemoveAll(scratch)

	units, err := BuildPlan(snap)
	if err != nil {
		e.fail(job, err)
		return
	}
	timeline := Compose(units, snap.Transition)
	mix, err := ResolveAudio(snap.Audio)
	if err != nil {
		e.fail(job, err)
		return
	}

	if e.logger != nil {
		e.logger.Info("export started",
			"job_id", job.ID,
			"clips", len(units),
			"transition", timeline.Transition.Type,
			"total_duration_s", timeline.TotalDuration,
			"audio", mix != nil,
		)
	}

	segWeight := 0.0
	for _, u := range units {
		segWeight += u.Length()
	}
	totalWeight := segWeight + timeline.TotalDuration
	progress := newProgressTracker(e.repo, job.ID, totalWeight)

	segments, err := e.transcodeAll(ctx, scratch, units, progress)
	if err != nil {
		e.finishAfterError(ctx, job, err)
		return
	}

	muxOut := filepath.Join(scratch, "final.mp4")
	muxSpec := ffmpeg.MuxSpec{
		Segments:           segments,
		Transition:         timeline.Transition.Type,
		TransitionDuration: timeline.Transition.Duration,
		Audio:              mix,
		TotalDuration:      timeline.TotalDuration,
		Output:             muxOut,
	}
	err = e.tool.Mux(ctx, muxSpec, func(frac float64) {
		progress.SetMuxFraction(frac, timeline.TotalDuration)
	})
	if err != nil {
		e.finishAfterError(ctx, job, err)
		return
	}

	if err := moveFile(muxOut, job.OutputPath); err != nil {
		e.fail(job, fmt.Errorf("cannot place output file: %w", err))
		return
	}

	e.repo.UpdateJobProgress(context.Background(), job.ID, 1.0)
	e.repo.UpdateJobStatus(context.Background(), job.ID, clips.JobStatusComplete, "")
	if e.logger != nil {
		e.logger.Info("export complete", "job_id", job.ID, "output", job.OutputPath)
	}
}

// transcodeAll runs the per-clip trim transcodes with bounded
// parallelism. Results are indexed so the mux sees timeline order no
// matter which transcode finished first.
func (e *Engine) transcodeAll(ctx context.Context, scratch string, units []Unit, progress *progressTracker) ([]ffmpeg.SegmentInfo, error) {
	segments := make([]ffmpeg.SegmentInfo, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			spec := ffmpeg.SegmentSpec{
				Input:    u.Path,
				Output:   filepath.Join(scratch, fmt.Sprintf("seg_%03d.mp4", i)),
				TrimIn:   u.TrimIn,
				TrimOut:  u.TrimOut,
				HasAudio: u.HasAudio,
			}
			if err := e.tool.TranscodeSegment(gctx, spec); err != nil {
				return fmt.Errorf("clip %s: %w", filepath.Base(u.Path), err)
			}
			segments[i] = ffmpeg.SegmentInfo{Path: spec.Output, Duration: u.Length()}
			progress.AddSegment(u.Length())
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return segments, nil
}

// finishAfterError distinguishes cancellation from failure: a cancel
// request is not an error condition.
func (e *Engine) finishAfterError(ctx context.Context, job *clips.Job, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		e.repo.UpdateJobStatus(context.Background(), job.ID, clips.JobStatusCancelled, "")
		if e.logger != nil {
			e.logger.Info("export cancelled", "job_id", job.ID)
		}
		return
	}
	e.fail(job, err)
}

func (e *Engine) fail(job *clips.Job, err error) {
	e.repo.UpdateJobStatus(context.Background(), job.ID, clips.JobStatusFailed, err.Error())
	if e.surface != nil {
		e.surface.Set(err.Error())
	}
	if e.logger != nil {
		e.logger.Error("export failed", "job_id", job.ID, "error", err)
	}
}

// progressTracker folds segment completions and the mux fraction into
// one monotonically advancing value.
type progressTracker struct {
	repo        clips.Repository
	jobID       string
	totalWeight float64

	mu        sync.Mutex
	segDone   float64
	published float64
}

func newProgressTracker(repo clips.Repository, jobID string, totalWeight float64) *progressTracker {
	return &progressTracker{repo: repo, jobID: jobID, totalWeight: totalWeight}
}

func (p *progressTracker) AddSegment(weight float64) {
	p.mu.Lock()
	p.segDone += weight
	frac := p.segDone / p.totalWeight
	p.mu.Unlock()
	p.publish(frac)
}

func (p *progressTracker) SetMuxFraction(frac, muxWeight float64) {
	p.mu.Lock()
	v := (p.segDone + frac*muxWeight) / p.totalWeight
	p.mu.Unlock()
	p.publish(v)
}

// publish writes progress only when it moved forward by at least a
// percent, keeping the database write rate low.
func (p *progressTracker) publish(frac float64) {
	if frac > 1.0 {
		frac = 1.0
	}
	p.mu.Lock()
	if frac < p.published+0.01 {
		p.mu.Unlock()
		return
	}
	p.published = frac
	p.mu.Unlock()
	p.repo.UpdateJobProgress(context.Background(), p.jobID, frac)
}

var nowFunc = time.Now

// newJob creates and persists a job row.
func newJob(ctx context.Context, repo clips.Repository, jobType, initialStatus, outputPath, exportJobID string) (*clips.Job, error) {
	now := nowFunc()
	job := &clips.Job{
		ID:          clips.NewJobID(),
		Type:        jobType,
		Status:      initialStatus,
		OutputPath:  outputPath,
		ExportJobID: exportJobID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// moveFile renames scratch output into place, falling back to a copy
// when the output lives on another filesystem.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
