package render

import (
	"fmt"
	"os"

	"github.com/reelcut/reelcut-engine/internal/clips"
	"github.com/reelcut/reelcut-engine/internal/ffmpeg"
)

// AudioError reports a bad music asset. It fails the export but leaves
// ingested clips and sprite caches untouched.
type AudioError struct {
	Path string
	Err  error
}

func (e *AudioError) Error() string {
	return fmt.Sprintf("background audio %s: %v", e.Path, e.Err)
}

func (e *AudioError) Unwrap() error { return e.Err }

// ResolveAudio validates the configured music bed. Disabled audio means
// the per-clip audio passes through unchanged (nil mix). The track is
// looped or trimmed to the timeline length at mux time; here we only
// confirm the file is readable and map volume to the 0-1 scale.
func ResolveAudio(cfg clips.AudioConfig) (*ffmpeg.AudioMix, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.Path == "" {
		return nil, &AudioError{Path: cfg.Path, Err: fmt.Errorf("no file configured")}
	}
	info, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, &AudioError{Path: cfg.Path, Err: err}
	}
	if info.IsDir() {
		return nil, &AudioError{Path: cfg.Path, Err: fmt.Errorf("is a directory")}
	}

	return &ffmpeg.AudioMix{Path: cfg.Path, Volume: cfg.Volume / 100}, nil
}
