package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/reelcut/reelcut-engine/internal/clips"
	"github.com/reelcut/reelcut-engine/internal/db"
	"github.com/reelcut/reelcut-engine/internal/render"
	"github.com/reelcut/reelcut-engine/internal/status"
)

const testToken = "test-token"

type fakeEngine struct {
	exportErr error
	activeID  string
	cancelled []string
	lastPath  string
}

func (f *fakeEngine) Export(ctx context.Context, outputPath string) (*clips.Job, error) {
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	f.lastPath = outputPath
	now := time.Now()
	return &clips.Job{
		ID: "job-1", Type: clips.JobTypeExport, Status: clips.JobStatusRendering,
		OutputPath: outputPath, CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (f *fakeEngine) Cancel(ctx context.Context, jobID string) error {
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeEngine) ActiveJobID() string { return f.activeID }

type fakeUploader struct {
	startErr error
	started  []string
}

func (f *fakeUploader) Start(ctx context.Context, exportJobID string) (*clips.Job, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, exportJobID)
	now := time.Now()
	return &clips.Job{
		ID: "up-1", Type: clips.JobTypeUpload, Status: clips.JobStatusUploading,
		ExportJobID: exportJobID, CreatedAt: now, UpdatedAt: now,
	}, nil
}

type testEnv struct {
	cfg      ServerConfig
	router   http.Handler
	repo     clips.Repository
	svc      *clips.Service
	engine   *fakeEngine
	uploader *fakeUploader
	surface  *status.Surface
	dir      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	database, err := db.New(filepath.Join(dir, "test.db"), logger)
	if err != nil {
		t.Fatalf("db.New error: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := clips.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), "auth_token", testToken); err != nil {
		t.Fatalf("SetConfig error: %v", err)
	}

	svc := clips.NewService(repo, logger)
	engine := &fakeEngine{}
	uploader := &fakeUploader{}
	surface := status.NewSurface()

	cfg := ServerConfig{
		Port:        0,
		ClipService: svc,
		Repository:  repo,
		Engine:      engine,
		Uploader:    uploader,
		Surface:     surface,
		Logger:      logger,
		StartTime:   time.Now(),
	}

	return &testEnv{
		cfg: cfg, router: NewRouter(cfg),
		repo: repo, svc: svc, engine: engine, uploader: uploader,
		surface: surface, dir: dir,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) addClip(t *testing.T, name string) ClipResponse {
	t.Helper()
	p := filepath.Join(e.dir, name)
	if err := os.WriteFile(p, []byte("video"), 0644); err != nil {
		t.Fatalf("writing clip file: %v", err)
	}
	rr := e.do(t, http.MethodPost, "/clips", AddClipsRequest{Paths: []string{p}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add clip status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp AddClipsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal add response: %v", err)
	}
	if len(resp.Added) != 1 {
		t.Fatalf("added = %d, want 1", len(resp.Added))
	}
	return resp.Added[0]
}

func TestHealth_NoAuthRequired(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp HealthResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Status != "ok" {
		t.Fatalf("health status = %q, want ok", resp.Status)
	}
}

func TestAuth_RejectsMissingAndBadTokens(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/clips", nil)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/clips", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", rr.Code)
	}
}

func TestClips_AddListRemove(t *testing.T) {
	e := newTestEnv(t)
	added := e.addClip(t, "a.mp4")

	rr := e.do(t, http.MethodGet, "/clips", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var list ClipsResponse
	json.Unmarshal(rr.Body.Bytes(), &list)
	if list.Total != 1 || len(list.Clips) != 1 {
		t.Fatalf("list = %+v, want one clip", list)
	}

	rr = e.do(t, http.MethodDelete, "/clips/"+added.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rr.Code)
	}

	rr = e.do(t, http.MethodGet, "/clips", nil)
	json.Unmarshal(rr.Body.Bytes(), &list)
	if list.Total != 0 {
		t.Fatalf("total after delete = %d, want 0", list.Total)
	}
}

func TestClips_AddRejectsEmptyPaths(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(t, http.MethodPost, "/clips", AddClipsRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestTrim_Handler(t *testing.T) {
	e := newTestEnv(t)
	added := e.addClip(t, "a.mp4")
	e.repo.UpdateClipMedia(context.Background(), added.ID, 10.0, true, "")

	rr := e.do(t, http.MethodPut, "/clips/"+added.ID+"/trim", SetTrimRequest{TrimIn: 2, TrimOut: 8})
	if rr.Code != http.StatusOK {
		t.Fatalf("trim status = %d: %s", rr.Code, rr.Body.String())
	}
	var clip ClipResponse
	json.Unmarshal(rr.Body.Bytes(), &clip)
	if clip.TrimIn != 2 || clip.TrimOut != 8 {
		t.Fatalf("trim = %.1f-%.1f, want 2-8", clip.TrimIn, clip.TrimOut)
	}

	rr = e.do(t, http.MethodPut, "/clips/missing/trim", SetTrimRequest{TrimIn: 0, TrimOut: 1})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown clip status = %d, want 404", rr.Code)
	}

	rr = e.do(t, http.MethodPut, "/clips/"+added.ID+"/trim", SetTrimRequest{TrimIn: 5, TrimOut: 5})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty range status = %d, want 400", rr.Code)
	}
}

func TestOrder_Handler(t *testing.T) {
	e := newTestEnv(t)
	a := e.addClip(t, "a.mp4")
	b := e.addClip(t, "b.mp4")

	rr := e.do(t, http.MethodPut, "/order", SetOrderRequest{ClipIDs: []string{b.ID, a.ID}})
	if rr.Code != http.StatusOK {
		t.Fatalf("order status = %d", rr.Code)
	}
	var list ClipsResponse
	json.Unmarshal(rr.Body.Bytes(), &list)
	if list.Clips[0].ID != b.ID || list.Clips[1].ID != a.ID {
		t.Fatalf("order = [%s %s], want [%s %s]",
			list.Clips[0].ID, list.Clips[1].ID, b.ID, a.ID)
	}
}

func TestTransition_Handler(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodGet, "/transition", nil)
	var tc TransitionResponse
	json.Unmarshal(rr.Body.Bytes(), &tc)
	if tc.Type != clips.TransitionCrossfade {
		t.Fatalf("default transition = %q, want crossfade", tc.Type)
	}

	rr = e.do(t, http.MethodPut, "/transition", TransitionRequest{Type: "dissolve", Duration: 2})
	if rr.Code != http.StatusOK {
		t.Fatalf("set transition status = %d", rr.Code)
	}
	json.Unmarshal(rr.Body.Bytes(), &tc)
	if tc.Type != "dissolve" || tc.Duration != 2 {
		t.Fatalf("transition = %+v, want dissolve/2", tc)
	}
}

func TestAudio_Handler(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodPut, "/audio", AudioRequest{Enabled: true, Path: "/music/bed.mp3", Volume: 60})
	if rr.Code != http.StatusOK {
		t.Fatalf("set audio status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = e.do(t, http.MethodPut, "/audio", AudioRequest{Enabled: true, Volume: 60})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("enable without path status = %d, want 400", rr.Code)
	}
}

func TestExport_Handler(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodPost, "/export", ExportRequest{OutputPath: "/out/reel.mp4"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("export status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp ExportResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.JobID != "job-1" {
		t.Fatalf("job_id = %q", resp.JobID)
	}
	if e.engine.lastPath != "/out/reel.mp4" {
		t.Fatalf("engine path = %q", e.engine.lastPath)
	}

	rr = e.do(t, http.MethodPost, "/export", ExportRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing path status = %d, want 400", rr.Code)
	}
}

func TestExport_ActiveConflict(t *testing.T) {
	e := newTestEnv(t)
	e.engine.exportErr = render.ErrExportActive

	rr := e.do(t, http.MethodPost, "/export", ExportRequest{OutputPath: "/out/reel.mp4"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	var resp ErrorResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Code != "EXPORT_ACTIVE" {
		t.Fatalf("code = %q, want EXPORT_ACTIVE", resp.Code)
	}
}

func TestExport_EmptyPlanBadRequest(t *testing.T) {
	e := newTestEnv(t)
	e.engine.exportErr = render.ErrEmptyPlan

	rr := e.do(t, http.MethodPost, "/export", ExportRequest{OutputPath: "/out/reel.mp4"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestExportCancel_Handler(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodPost, "/export/cancel", CancelRequest{JobID: "job-1"})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want 204", rr.Code)
	}
	if len(e.engine.cancelled) != 1 || e.engine.cancelled[0] != "job-1" {
		t.Fatalf("cancelled = %v", e.engine.cancelled)
	}

	// Empty body targets whatever is active.
	req := httptest.NewRequest(http.MethodPost, "/export/cancel", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("bodyless cancel status = %d, want 204", rec.Code)
	}
}

func TestUpload_Handler(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodPost, "/upload", UploadRequest{ExportJobID: "job-1"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d: %s", rr.Code, rr.Body.String())
	}
	if len(e.uploader.started) != 1 || e.uploader.started[0] != "job-1" {
		t.Fatalf("started = %v", e.uploader.started)
	}

	rr = e.do(t, http.MethodPost, "/upload", UploadRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing export_job_id status = %d, want 400", rr.Code)
	}

	e.uploader.startErr = errors.New("export job missing")
	rr = e.do(t, http.MethodPost, "/upload", UploadRequest{ExportJobID: "gone"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("failed start status = %d, want 400", rr.Code)
	}
}

func TestStatus_ReflectsSurfaceAndActiveJob(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodGet, "/status", nil)
	var resp StatusResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.State != "idle" {
		t.Fatalf("state = %q, want idle", resp.State)
	}

	e.surface.Set("export failed: boom")
	rr = e.do(t, http.MethodGet, "/status", nil)
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.State != "error" || resp.LastError == "" {
		t.Fatalf("state = %q last_error = %q, want error state", resp.State, resp.LastError)
	}

	rr = e.do(t, http.MethodPost, "/error/dismiss", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("dismiss status = %d, want 204", rr.Code)
	}
	rr = e.do(t, http.MethodGet, "/status", nil)
	resp = StatusResponse{}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.State != "idle" || resp.LastError != "" {
		t.Fatalf("state after dismiss = %q / %q, want idle", resp.State, resp.LastError)
	}
}

func TestStatus_RenderingState(t *testing.T) {
	e := newTestEnv(t)

	now := time.Now()
	job := &clips.Job{
		ID: "job-9", Type: clips.JobTypeExport, Status: clips.JobStatusRendering,
		OutputPath: "/out/reel.mp4", Progress: 0.4, CreatedAt: now, UpdatedAt: now,
	}
	if err := e.repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	e.engine.activeID = "job-9"

	rr := e.do(t, http.MethodGet, "/status", nil)
	var resp StatusResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.State != "rendering" {
		t.Fatalf("state = %q, want rendering", resp.State)
	}
	if resp.ActiveJob == nil || resp.ActiveJob.ID != "job-9" {
		t.Fatalf("active_job = %+v, want job-9", resp.ActiveJob)
	}
}

func TestJobs_GetAndList(t *testing.T) {
	e := newTestEnv(t)

	now := time.Now()
	job := &clips.Job{
		ID: "job-5", Type: clips.JobTypeExport, Status: clips.JobStatusComplete,
		OutputPath: "/out/reel.mp4", Progress: 1, CreatedAt: now, UpdatedAt: now,
	}
	e.repo.CreateJob(context.Background(), job)

	rr := e.do(t, http.MethodGet, "/jobs/job-5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get job status = %d", rr.Code)
	}
	var got JobResponse
	json.Unmarshal(rr.Body.Bytes(), &got)
	if got.ID != "job-5" || got.Status != clips.JobStatusComplete {
		t.Fatalf("job = %+v", got)
	}

	// Export jobs are also addressable under their own prefix.
	rr = e.do(t, http.MethodGet, "/export/job-5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get export job status = %d", rr.Code)
	}

	rr = e.do(t, http.MethodGet, "/jobs/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d, want 404", rr.Code)
	}

	rr = e.do(t, http.MethodGet, "/jobs", nil)
	var list JobsResponse
	json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list.Jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(list.Jobs))
	}
}

func TestCORS_PreflightAllowsLocalUI(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/clips", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow-origin = %q", got)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "POST") {
		t.Fatal("preflight missing POST")
	}
}

func TestCORS_RejectsForeignOrigin(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("allow-origin = %q, want empty for foreign origin", got)
	}
}
