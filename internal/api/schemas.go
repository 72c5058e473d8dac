package api

import (
	"time"

	"github.com/reelcut/reelcut-engine/internal/clips"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State       string       `json:"state"`
	LastError   string       `json:"last_error,omitempty"`
	ClipsTotal  int          `json:"clips_total"`
	ClipsLoaded int          `json:"clips_loaded"`
	ActiveJob   *JobResponse `json:"active_job,omitempty"`
}

type AddClipsRequest struct {
	Paths []string `json:"paths"`
}

type AddClipsResponse struct {
	Added   []ClipResponse `json:"added"`
	Dropped []string       `json:"dropped,omitempty"`
}

type ClipResponse struct {
	ID         string  `json:"id"`
	Path       string  `json:"path"`
	Filename   string  `json:"filename"`
	Duration   float64 `json:"duration"`
	HasAudio   bool    `json:"has_audio"`
	TrimIn     float64 `json:"trim_in"`
	TrimOut    float64 `json:"trim_out"`
	Status     string  `json:"status"`
	SpritePath string  `json:"sprite_path,omitempty"`
	Error      string  `json:"error,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

type ClipsResponse struct {
	Clips  []ClipResponse `json:"clips"`
	Loaded int            `json:"loaded"`
	Total  int            `json:"total"`
}

type SetOrderRequest struct {
	ClipIDs []string `json:"clip_ids"`
}

type SetTrimRequest struct {
	TrimIn  float64 `json:"trim_in"`
	TrimOut float64 `json:"trim_out"`
}

type TransitionRequest struct {
	Type     string  `json:"type"`
	Duration float64 `json:"duration"`
}

type TransitionResponse struct {
	Type     string  `json:"type"`
	Duration float64 `json:"duration"`
}

type AudioRequest struct {
	Enabled bool    `json:"enabled"`
	Path    string  `json:"path,omitempty"`
	Volume  float64 `json:"volume"`
}

type AudioResponse struct {
	Enabled bool    `json:"enabled"`
	Path    string  `json:"path,omitempty"`
	Volume  float64 `json:"volume"`
}

type ExportRequest struct {
	OutputPath string `json:"output_path"`
}

type ExportResponse struct {
	JobID string `json:"job_id"`
}

type CancelRequest struct {
	JobID string `json:"job_id,omitempty"`
}

type UploadRequest struct {
	ExportJobID string `json:"export_job_id"`
}

type UploadResponse struct {
	JobID string `json:"job_id"`
}

type JobResponse struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	OutputPath  string  `json:"output_path,omitempty"`
	ExportJobID string  `json:"export_job_id,omitempty"`
	Progress    float64 `json:"progress"`
	Error       string  `json:"error,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ClipToResponse(c *clips.Clip) ClipResponse {
	return ClipResponse{
		ID:         c.ID,
		Path:       c.Path,
		Filename:   c.Filename,
		Duration:   c.Duration,
		HasAudio:   c.HasAudio,
		TrimIn:     c.TrimIn,
		TrimOut:    c.TrimOut,
		Status:     c.Status,
		SpritePath: c.SpritePath,
		Error:      c.Error,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *clips.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		Type:        j.Type,
		Status:      j.Status,
		OutputPath:  j.OutputPath,
		ExportJobID: j.ExportJobID,
		Progress:    j.Progress,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
}
