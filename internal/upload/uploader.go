// Package upload delivers finished exports to the configured ingest
// endpoint. Delivery never blocks the editing surface: it runs as a
// tracked background job and a failed upload keeps the local file.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/reelcut/reelcut-engine/internal/clips"
	"github.com/reelcut/reelcut-engine/internal/status"
)

var (
	// ErrNotConfigured means no ingest endpoint is set; uploads are a
	// strictly optional stage.
	ErrNotConfigured = errors.New("no upload endpoint configured")

	// ErrExportNotComplete means the referenced export job has no
	// finished artifact to deliver.
	ErrExportNotComplete = errors.New("export is not complete")
)

// UploadError represents a non-2xx response from the ingest endpoint.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx). Client errors (4xx)
// are considered permanent.
func (e *UploadError) IsRetryable() bool {
	return e.StatusCode >= 500
}

const maxAttempts = 3

// Uploader posts export artifacts as multipart form data with a bearer
// token. One upload runs at a time.
type Uploader struct {
	repo       clips.Repository
	surface    *status.Surface
	endpoint   string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.Mutex
	active bool
}

func NewUploader(repo clips.Repository, surface *status.Surface, endpoint, token string, logger *slog.Logger) *Uploader {
	return &Uploader{
		repo:     repo,
		surface:  surface,
		endpoint: endpoint,
		token:    token,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		logger: logger,
	}
}

// Start begins delivering the artifact of a complete export job and
// returns the upload job handle. The upload runs in the background; its
// outcome lands on the job row and, on failure, the status surface.
func (u *Uploader) Start(ctx context.Context, exportJobID string) (*clips.Job, error) {
	if u.endpoint == "" {
		return nil, ErrNotConfigured
	}

	export, err := u.repo.GetJob(ctx, exportJobID)
	if err != nil {
		return nil, err
	}
	if export == nil || export.Type != clips.JobTypeExport {
		return nil, fmt.Errorf("export job %s not found", exportJobID)
	}
	if export.Status != clips.JobStatusComplete {
		return nil, fmt.Errorf("%w: job %s is %s", ErrExportNotComplete, exportJobID, export.Status)
	}
	if _, err := os.Stat(export.OutputPath); err != nil {
		return nil, fmt.Errorf("export artifact missing: %w", err)
	}

	u.mu.Lock()
	if u.active {
		u.mu.Unlock()
		return nil, errors.New("an upload is already in progress")
	}
	u.active = true
	u.mu.Unlock()

	now := time.Now()
	job := &clips.Job{
		ID:          clips.NewJobID(),
		Type:        clips.JobTypeUpload,
		Status:      clips.JobStatusUploading,
		OutputPath:  export.OutputPath,
		ExportJobID: export.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := u.repo.CreateJob(ctx, job); err != nil {
		u.mu.Lock()
		u.active = false
		u.mu.Unlock()
		return nil, err
	}

	go func() {
		defer func() {
			u.mu.Lock()
			u.active = false
			u.mu.Unlock()
		}()
		u.run(job)
	}()

	return job, nil
}

func (u *Uploader) run(job *clips.Job) {
	ctx := context.Background()
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = u.send(ctx, job.OutputPath)
		if lastErr == nil {
			u.repo.UpdateJobProgress(ctx, job.ID, 1.0)
			u.repo.UpdateJobStatus(ctx, job.ID, clips.JobStatusDone, "")
			u.logger.Info("upload done",
				"job_id", job.ID,
				"export_job_id", job.ExportJobID,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return
		}

		var ue *UploadError
		if errors.As(lastErr, &ue) && !ue.IsRetryable() {
			break
		}
		if attempt < maxAttempts {
			backoff := time.Duration(attempt) * 2 * time.Second
			u.logger.Warn("upload attempt failed, retrying",
				"job_id", job.ID, "attempt", attempt, "backoff", backoff, "error", lastErr)
			time.Sleep(backoff)
		}
	}

	// The local artifact stays on disk: delivery failure is recoverable.
	u.repo.UpdateJobStatus(ctx, job.ID, clips.JobStatusFailed, lastErr.Error())
	if u.surface != nil {
		u.surface.Set(fmt.Sprintf("upload failed: %v", lastErr))
	}
	u.logger.Error("upload failed", "job_id", job.ID, "error", lastErr)
}

// send streams the artifact as a multipart POST. The request body is
// piped so large exports never load fully into memory.
func (u *Uploader) send(ctx context.Context, artifactPath string) error {
	file, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(artifactPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, pr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &UploadError{StatusCode: resp.StatusCode, Body: string(body)}
}
