// Package ffmpeg drives the external ffmpeg/ffprobe binaries: media
// probing, sprite sheet extraction, per-clip trim transcodes and the
// final transition/audio mux. All invocations are context-cancellable
// subprocesses with a bounded stderr tail kept for diagnostics.
package ffmpeg

import (
	"context"
	"fmt"
	"time"
)

// Sprite sheet geometry is fixed across the system: 16 evenly spaced
// frames tiled 4x4 at 160x90 per cell, one JPEG per clip.
const (
	SpriteFrames = 16
	SpriteCols   = 4
	SpriteRows   = 4
	SpriteCellW  = 160
	SpriteCellH  = 90
)

// Normalized segment parameters. Every trimmed clip is transcoded to a
// common format so the final mux never renegotiates codecs.
const (
	SegmentWidth  = 1280
	SegmentHeight = 720
	SegmentFPS    = 30
)

// FFmpeg is the encoding-process contract the sprite generator and the
// render pipeline run against.
type FFmpeg interface {
	// Probe reads duration and stream layout of a media file.
	Probe(ctx context.Context, path string) (*ProbeResult, error)

	// SpriteSheet extracts the fixed frame grid for scrub preview.
	SpriteSheet(ctx context.Context, path string, duration float64, outPath string) error

	// TranscodeSegment renders one trimmed, normalized timeline segment.
	TranscodeSegment(ctx context.Context, spec SegmentSpec) error

	// Mux concatenates finished segments in timeline order, applying
	// transitions and the optional music bed. onProgress receives the
	// output-time fraction in [0,1].
	Mux(ctx context.Context, spec MuxSpec, onProgress func(float64)) error
}

// ProbeResult holds the subset of ffprobe output the engine needs.
type ProbeResult struct {
	Duration float64
	HasAudio bool
}

// SegmentSpec describes one per-clip trim+transcode pass.
type SegmentSpec struct {
	Input    string
	Output   string
	TrimIn   float64
	TrimOut  float64
	HasAudio bool // silent clips get a generated silent track
}

// Length is the trimmed segment duration.
func (s SegmentSpec) Length() float64 {
	return s.TrimOut - s.TrimIn
}

// SegmentInfo is a finished intermediate artifact entering the mux.
type SegmentInfo struct {
	Path     string
	Duration float64
}

// AudioMix is the resolved background music bed. Volume is 0-1.
type AudioMix struct {
	Path   string
	Volume float64
}

// MuxSpec describes the final concatenation pass. Segments must already
// be in timeline order.
type MuxSpec struct {
	Segments           []SegmentInfo
	Transition         string
	TransitionDuration float64
	Audio              *AudioMix
	TotalDuration      float64
	Output             string
}

// RunResult is the structured outcome of one subprocess invocation.
type RunResult struct {
	ExitCode   int
	StderrTail string
	Duration   time.Duration
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// EncodeError reports an external encoding process failure.
type EncodeError struct {
	ExitCode   int
	StderrTail string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("ffmpeg exited %d: %s", e.ExitCode, e.StderrTail)
}
