package clips

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clip is one ingested source video. The source path is the identity:
// adding the same path twice yields a single row.
type Clip struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Filename   string    `json:"filename"`
	Duration   float64   `json:"duration"`
	HasAudio   bool      `json:"has_audio"`
	TrimIn     float64   `json:"trim_in"`
	TrimOut    float64   `json:"trim_out"`
	Status     string    `json:"status"`
	SpritePath string    `json:"sprite_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EffectiveLength is the trimmed duration used on the timeline.
func (c *Clip) EffectiveLength() float64 {
	return c.TrimOut - c.TrimIn
}

const (
	ClipStatusPending = "pending"
	ClipStatusLoading = "loading"
	ClipStatusReady   = "ready"
	ClipStatusFailed  = "failed"
)

const (
	JobTypeExport = "export"
	JobTypeUpload = "upload"

	JobStatusRendering = "rendering"
	JobStatusComplete  = "complete"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
	JobStatusUploading = "uploading"
	JobStatusDone      = "done"
)

// Job is one export or upload invocation. Export jobs own their progress
// and never mutate clips; upload jobs reference the export they deliver.
type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	OutputPath  string    `json:"output_path,omitempty"`
	ExportJobID string    `json:"export_job_id,omitempty"`
	Progress    float64   `json:"progress"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsTerminal reports whether the job can no longer change state.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusComplete, JobStatusFailed, JobStatusCancelled, JobStatusDone:
		return true
	}
	return false
}

// Transition styles applied uniformly between every adjacent pair of
// clips. Cut concatenates without overlap; the rest are xfade styles.
const (
	TransitionCut       = "cut"
	TransitionCrossfade = "crossfade"
	TransitionDissolve  = "dissolve"
	TransitionWipeLeft  = "wipeleft"
	TransitionSlideLeft = "slideleft"
)

const (
	TransitionMinDuration = 0.5
	TransitionMaxDuration = 5.0
)

var TransitionTypes = map[string]bool{
	TransitionCut:       true,
	TransitionCrossfade: true,
	TransitionDissolve:  true,
	TransitionWipeLeft:  true,
	TransitionSlideLeft: true,
}

// TransitionConfig is global project state, not per-pair.
type TransitionConfig struct {
	Type     string  `json:"type"`
	Duration float64 `json:"duration"`
}

func DefaultTransition() TransitionConfig {
	return TransitionConfig{Type: TransitionCrossfade, Duration: 1.0}
}

// AudioConfig describes the optional background music bed.
// Path is validated only when Enabled is true.
type AudioConfig struct {
	Enabled bool    `json:"enabled"`
	Path    string  `json:"path"`
	Volume  float64 `json:"volume"`
}

func DefaultAudio() AudioConfig {
	return AudioConfig{Enabled: false, Volume: 80}
}

// Snapshot is the immutable view of the store an export runs against.
// Later edits to clips or configs do not affect an active render.
type Snapshot struct {
	Clips      []*Clip
	Transition TransitionConfig
	Audio      AudioConfig
}

// Progress is the aggregate ingest counter: Loaded counts clips that
// finished sprite generation, ready or failed.
type Progress struct {
	Loaded int `json:"loaded"`
	Total  int `json:"total"`
}

var VideoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".mkv": true,
}

func NewID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// NewJobID returns a UUIDv7 so job listings sort chronologically.
func NewJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("job-%d", time.Now().UnixNano())
	}
	return id.String()
}

// IsVideoFile reports whether the filename carries a supported extension.
func IsVideoFile(filename string) bool {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 {
		return false
	}
	return VideoExtensions[strings.ToLower(filename[idx:])]
}
