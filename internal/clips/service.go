package clips

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
)

const (
	configKeyTransition = "transition"
	configKeyAudio      = "audio"
)

var (
	ErrClipNotFound = errors.New("clip not found")
	ErrInvalidTrim  = errors.New("trim range is empty")
)

// SpriteQueue is the async sprite generation boundary. Enqueue schedules
// work for a pending clip; Cancel abandons in-flight work on removal.
type SpriteQueue interface {
	Enqueue(clipID string)
	Cancel(clipID string)
}

// Service owns the clip collection, the ordering list and the project
// configs. It is the only writer; background stages go through the
// repository with clip-scoped updates.
type Service struct {
	repo    Repository
	sprites SpriteQueue
	logger  *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SetSpriteQueue wires the generator after construction; the generator
// needs the repository which needs the database first.
func (s *Service) SetSpriteQueue(q SpriteQueue) {
	s.sprites = q
}

// AddClips ingests the given source paths. Unsupported extensions are
// dropped, duplicate paths are ignored, everything else becomes a
// pending clip appended to the ordering and queued for sprite
// generation. Returns the created clips and the dropped paths.
func (s *Service) AddClips(ctx context.Context, paths []string) ([]*Clip, []string, error) {
	var added []*Clip
	var dropped []string

	for _, path := range paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			dropped = append(dropped, path)
			continue
		}

		if !IsVideoFile(absPath) {
			dropped = append(dropped, path)
			if s.logger != nil {
				s.logger.Warn("unsupported extension dropped", "path", path)
			}
			continue
		}

		existing, err := s.repo.GetClipByPath(ctx, absPath)
		if err != nil {
			return added, dropped, err
		}
		if existing != nil {
			continue
		}

		now := time.Now()
		clip := &Clip{
			ID:        NewID(),
			Path:      absPath,
			Filename:  filepath.Base(absPath),
			Status:    ClipStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := s.repo.CreateClip(ctx, clip); err != nil {
			return added, dropped, err
		}
		if err := s.repo.AppendOrder(ctx, clip.ID); err != nil {
			return added, dropped, err
		}

		added = append(added, clip)

		if s.sprites != nil {
			s.sprites.Enqueue(clip.ID)
		}
	}

	if s.logger != nil && (len(added) > 0 || len(dropped) > 0) {
		s.logger.Info("clips ingested", "added", len(added), "dropped", len(dropped))
	}
	return added, dropped, nil
}

// RemoveClip deletes the clip and its order entry. In-flight sprite
// generation is abandoned, not awaited. No-op for unknown ids.
func (s *Service) RemoveClip(ctx context.Context, id string) error {
	clip, err := s.repo.GetClip(ctx, id)
	if err != nil {
		return err
	}
	if clip == nil {
		return nil
	}

	if s.sprites != nil {
		s.sprites.Cancel(id)
	}

	if err := s.repo.DeleteClip(ctx, id); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("clip removed", "clip_id", id, "path", clip.Path)
	}
	return nil
}

// SetOrder replaces the ordering atomically. Ids not present in the
// store are filtered out; clips missing from the permutation keep their
// relative order at the end. Reordering never touches sprite state.
func (s *Service) SetOrder(ctx context.Context, orderedIDs []string) error {
	current, err := s.repo.ListClips(ctx)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(current))
	for _, c := range current {
		known[c.ID] = true
	}

	var next []string
	seen := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if known[id] && !seen[id] {
			next = append(next, id)
			seen[id] = true
		}
	}
	for _, c := range current {
		if !seen[c.ID] {
			next = append(next, c.ID)
		}
	}

	return s.repo.ReplaceOrder(ctx, next)
}

// SetClipTrim stores a trim range clamped to the clip's metadata bounds.
// A range that is empty after clamping is rejected.
func (s *Service) SetClipTrim(ctx context.Context, id string, trimIn, trimOut float64) (*Clip, error) {
	clip, err := s.repo.GetClip(ctx, id)
	if err != nil {
		return nil, err
	}
	if clip == nil {
		return nil, ErrClipNotFound
	}

	trimIn = clamp(trimIn, 0, clip.Duration)
	trimOut = clamp(trimOut, 0, clip.Duration)
	if trimOut <= trimIn {
		return nil, fmt.Errorf("%w: in=%.3f out=%.3f", ErrInvalidTrim, trimIn, trimOut)
	}

	if err := s.repo.UpdateClipTrim(ctx, id, trimIn, trimOut); err != nil {
		return nil, err
	}
	clip.TrimIn = trimIn
	clip.TrimOut = trimOut
	return clip, nil
}

// GetClips returns the ordered clip list.
func (s *Service) GetClips(ctx context.Context) ([]*Clip, error) {
	return s.repo.ListClips(ctx)
}

// Progress reports the ingest counter shown to the caller. Failed clips
// count as loaded so one bad file never stalls the bar.
func (s *Service) Progress(ctx context.Context) (Progress, error) {
	counts, err := s.repo.CountClipsByStatus(ctx)
	if err != nil {
		return Progress{}, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return Progress{
		Loaded: counts[ClipStatusReady] + counts[ClipStatusFailed],
		Total:  total,
	}, nil
}

// Transition returns the current transition config, defaulting when unset.
func (s *Service) Transition(ctx context.Context) (TransitionConfig, error) {
	raw, err := s.repo.GetConfig(ctx, configKeyTransition)
	if err != nil {
		return TransitionConfig{}, err
	}
	if raw == "" {
		return DefaultTransition(), nil
	}
	var tc TransitionConfig
	if err := json.Unmarshal([]byte(raw), &tc); err != nil {
		return DefaultTransition(), nil
	}
	return tc, nil
}

// SetTransition stores the transition config. Unknown types fall back to
// the default style, duration is clamped to the allowed range.
func (s *Service) SetTransition(ctx context.Context, tc TransitionConfig) (TransitionConfig, error) {
	if !TransitionTypes[tc.Type] {
		tc.Type = DefaultTransition().Type
	}
	tc.Duration = clamp(tc.Duration, TransitionMinDuration, TransitionMaxDuration)

	raw, err := json.Marshal(tc)
	if err != nil {
		return tc, err
	}
	return tc, s.repo.SetConfig(ctx, configKeyTransition, string(raw))
}

// Audio returns the current audio config, defaulting when unset.
func (s *Service) Audio(ctx context.Context) (AudioConfig, error) {
	raw, err := s.repo.GetConfig(ctx, configKeyAudio)
	if err != nil {
		return AudioConfig{}, err
	}
	if raw == "" {
		return DefaultAudio(), nil
	}
	var ac AudioConfig
	if err := json.Unmarshal([]byte(raw), &ac); err != nil {
		return DefaultAudio(), nil
	}
	return ac, nil
}

// SetAudio stores the audio config with the volume clamped to 0-100.
// The path is only required when enabling; existence is checked at
// export time so a temporarily missing file never blocks editing.
func (s *Service) SetAudio(ctx context.Context, ac AudioConfig) (AudioConfig, error) {
	if ac.Enabled && ac.Path == "" {
		return ac, fmt.Errorf("audio path is required when audio is enabled")
	}
	ac.Volume = clamp(ac.Volume, 0, 100)

	raw, err := json.Marshal(ac)
	if err != nil {
		return ac, err
	}
	return ac, s.repo.SetConfig(ctx, configKeyAudio, string(raw))
}

// Snapshot captures the ordered clips and both configs for an export.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	ordered, err := s.repo.ListClips(ctx)
	if err != nil {
		return nil, err
	}
	tc, err := s.Transition(ctx)
	if err != nil {
		return nil, err
	}
	ac, err := s.Audio(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Transition: tc, Audio: ac}
	for _, c := range ordered {
		copied := *c
		snap.Clips = append(snap.Clips, &copied)
	}
	return snap, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
