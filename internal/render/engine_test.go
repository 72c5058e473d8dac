package render_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/reelcut/reelcut-engine/internal/clips"
	"github.com/reelcut/reelcut-engine/internal/db"
	"github.com/reelcut/reelcut-engine/internal/ffmpeg"
	"github.com/reelcut/reelcut-engine/internal/render"
	"github.com/reelcut/reelcut-engine/internal/status"
)

type fakeTool struct {
	mu         sync.Mutex
	transcoded []ffmpeg.SegmentSpec
	muxSpec    ffmpeg.MuxSpec
	muxCalled  bool

	// blockTranscode, when set, makes transcodes wait for close or
	// context cancellation.
	blockTranscode chan struct{}
	transcodeErr   error
}

func (f *fakeTool) Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	return &ffmpeg.ProbeResult{Duration: 10, HasAudio: true}, nil
}

func (f *fakeTool) SpriteSheet(ctx context.Context, path string, duration float64, outPath string) error {
	return nil
}

func (f *fakeTool) TranscodeSegment(ctx context.Context, spec ffmpeg.SegmentSpec) error {
	if f.blockTranscode != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.blockTranscode:
		}
	}
	if f.transcodeErr != nil {
		return f.transcodeErr
	}
	f.mu.Lock()
	f.transcoded = append(f.transcoded, spec)
	f.mu.Unlock()
	return os.WriteFile(spec.Output, []byte("segment"), 0644)
}

func (f *fakeTool) Mux(ctx context.Context, spec ffmpeg.MuxSpec, onProgress func(float64)) error {
	f.mu.Lock()
	f.muxSpec = spec
	f.muxCalled = true
	f.mu.Unlock()
	if onProgress != nil {
		onProgress(0.5)
		onProgress(1.0)
	}
	return os.WriteFile(spec.Output, []byte("final"), 0644)
}

type harness struct {
	repo    clips.Repository
	svc     *clips.Service
	surface *status.Surface
	tool    *fakeTool
	engine  *render.Engine
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	database, err := db.New(filepath.Join(dir, "test.db"), logger)
	if err != nil {
		t.Fatalf("db.New error: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := clips.NewRepository(database.Conn())
	svc := clips.NewService(repo, logger)
	surface := status.NewSurface()
	tool := &fakeTool{}
	engine := render.NewEngine(repo, svc, tool, surface, filepath.Join(dir, "scratch"), 2, logger)

	return &harness{repo: repo, svc: svc, surface: surface, tool: tool, engine: engine, dir: dir}
}

// seedReadyClips creates one ready clip per duration, trimmed to the
// full length.
func (h *harness) seedReadyClips(t *testing.T, durations ...float64) []*clips.Clip {
	t.Helper()
	ctx := context.Background()
	var paths []string
	for i := range durations {
		p := filepath.Join(h.dir, "src", time.Now().Format("150405.000000000")+"-"+string(rune('a'+i))+".mp4")
		os.MkdirAll(filepath.Dir(p), 0755)
		if err := os.WriteFile(p, []byte("video"), 0644); err != nil {
			t.Fatalf("seed clip: %v", err)
		}
		paths = append(paths, p)
	}

	added, _, err := h.svc.AddClips(ctx, paths)
	if err != nil {
		t.Fatalf("AddClips error: %v", err)
	}
	for i, c := range added {
		if err := h.repo.UpdateClipMedia(ctx, c.ID, durations[i], true, ""); err != nil {
			t.Fatalf("UpdateClipMedia error: %v", err)
		}
		if err := h.repo.UpdateClipStatus(ctx, c.ID, clips.ClipStatusReady, ""); err != nil {
			t.Fatalf("UpdateClipStatus error: %v", err)
		}
	}
	return added
}

func waitForJob(t *testing.T, repo clips.Repository, id string) *clips.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := repo.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob error: %v", err)
		}
		if job != nil && job.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestExport_CompletesAndWritesOutput(t *testing.T) {
	h := newHarness(t)
	h.seedReadyClips(t, 5, 3)
	out := filepath.Join(h.dir, "out", "reel.mp4")

	job, err := h.engine.Export(context.Background(), out)
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}

	final := waitForJob(t, h.repo, job.ID)
	if final.Status != clips.JobStatusComplete {
		t.Fatalf("status = %q (error %q), want complete", final.Status, final.Error)
	}
	if final.Progress != 1.0 {
		t.Fatalf("progress = %.2f, want 1.0", final.Progress)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output file missing: %v", err)
	}
	if len(h.tool.transcoded) != 2 {
		t.Fatalf("transcoded segments = %d, want 2", len(h.tool.transcoded))
	}
	// Default crossfade of 1s over two clips: 5 + 3 - 1.
	if h.tool.muxSpec.TotalDuration != 7 {
		t.Fatalf("mux total = %.1f, want 7", h.tool.muxSpec.TotalDuration)
	}
}

func TestExport_SecondExportRejected(t *testing.T) {
	h := newHarness(t)
	h.seedReadyClips(t, 5)
	h.tool.blockTranscode = make(chan struct{})

	job, err := h.engine.Export(context.Background(), filepath.Join(h.dir, "a.mp4"))
	if err != nil {
		t.Fatalf("first Export error: %v", err)
	}

	_, err = h.engine.Export(context.Background(), filepath.Join(h.dir, "b.mp4"))
	if !errors.Is(err, render.ErrExportActive) {
		t.Fatalf("second export error = %v, want ErrExportActive", err)
	}

	close(h.tool.blockTranscode)
	waitForJob(t, h.repo, job.ID)

	// With the slot free a new export is accepted again.
	job2, err := h.engine.Export(context.Background(), filepath.Join(h.dir, "c.mp4"))
	if err != nil {
		t.Fatalf("export after completion error: %v", err)
	}
	waitForJob(t, h.repo, job2.ID)
}

func TestExport_CancelLeavesNoOutput(t *testing.T) {
	h := newHarness(t)
	seeded := h.seedReadyClips(t, 5, 3)
	h.tool.blockTranscode = make(chan struct{})
	out := filepath.Join(h.dir, "cancelled.mp4")

	job, err := h.engine.Export(context.Background(), out)
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}

	if err := h.engine.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}

	final := waitForJob(t, h.repo, job.ID)
	if final.Status != clips.JobStatusCancelled {
		t.Fatalf("status = %q, want cancelled", final.Status)
	}
	if final.Error != "" {
		t.Fatalf("cancelled job error = %q, want empty", final.Error)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatal("cancelled export left an output file")
	}
	if h.surface.Current() != "" {
		t.Fatalf("surface = %q, cancellation must not raise an error", h.surface.Current())
	}

	// The store is untouched by the cancelled render.
	for _, c := range seeded {
		got, _ := h.repo.GetClip(context.Background(), c.ID)
		if got == nil || got.Status != clips.ClipStatusReady {
			t.Fatalf("clip %s changed by cancelled export", c.ID)
		}
	}
}

func TestExport_CancelUnknownJobIsNoOp(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Cancel(context.Background(), "no-such-job"); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
}

func TestExport_EmptyStoreFailsBeforeSubprocess(t *testing.T) {
	h := newHarness(t)

	job, err := h.engine.Export(context.Background(), filepath.Join(h.dir, "empty.mp4"))
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}

	final := waitForJob(t, h.repo, job.ID)
	if final.Status != clips.JobStatusFailed {
		t.Fatalf("status = %q, want failed", final.Status)
	}
	if h.surface.Current() == "" {
		t.Fatal("validation failure must land on the status surface")
	}
	if len(h.tool.transcoded) != 0 || h.tool.muxCalled {
		t.Fatal("no subprocess work should run for an empty plan")
	}
}

func TestExport_FailedTranscodeSurfacesError(t *testing.T) {
	h := newHarness(t)
	h.seedReadyClips(t, 5)
	h.tool.transcodeErr = &ffmpeg.EncodeError{ExitCode: 1, StderrTail: "broken input"}

	job, err := h.engine.Export(context.Background(), filepath.Join(h.dir, "bad.mp4"))
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}

	final := waitForJob(t, h.repo, job.ID)
	if final.Status != clips.JobStatusFailed {
		t.Fatalf("status = %q, want failed", final.Status)
	}
	if final.Error == "" {
		t.Fatal("failed job must record its error")
	}
	if h.surface.Current() == "" {
		t.Fatal("encode failure must land on the status surface")
	}
}

func TestExport_AudioBedDoesNotChangeDuration(t *testing.T) {
	h := newHarness(t)
	h.seedReadyClips(t, 5, 3)

	bed := filepath.Join(h.dir, "music.mp3")
	if err := os.WriteFile(bed, []byte("mp3"), 0644); err != nil {
		t.Fatalf("writing music bed: %v", err)
	}
	if _, err := h.svc.SetAudio(context.Background(), clips.AudioConfig{
		Enabled: true, Path: bed, Volume: 50,
	}); err != nil {
		t.Fatalf("SetAudio error: %v", err)
	}

	job, err := h.engine.Export(context.Background(), filepath.Join(h.dir, "mixed.mp4"))
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}
	waitForJob(t, h.repo, job.ID)

	if h.tool.muxSpec.Audio == nil {
		t.Fatal("mux spec missing the audio bed")
	}
	if h.tool.muxSpec.Audio.Volume != 0.5 {
		t.Fatalf("mix volume = %.2f, want 0.5", h.tool.muxSpec.Audio.Volume)
	}
	if h.tool.muxSpec.TotalDuration != 7 {
		t.Fatalf("total with audio = %.1f, want unchanged 7", h.tool.muxSpec.TotalDuration)
	}
}

func TestExport_MissingAudioFileFailsExport(t *testing.T) {
	h := newHarness(t)
	h.seedReadyClips(t, 5)

	if _, err := h.svc.SetAudio(context.Background(), clips.AudioConfig{
		Enabled: true, Path: filepath.Join(h.dir, "gone.mp3"), Volume: 80,
	}); err != nil {
		t.Fatalf("SetAudio error: %v", err)
	}

	job, err := h.engine.Export(context.Background(), filepath.Join(h.dir, "x.mp4"))
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}

	final := waitForJob(t, h.repo, job.ID)
	if final.Status != clips.JobStatusFailed {
		t.Fatalf("status = %q, want failed", final.Status)
	}
	if final.Error == "" {
		t.Fatal("failed job must record the audio error")
	}
	if h.tool.muxCalled {
		t.Fatal("mux must not run when the audio bed is invalid")
	}
}
