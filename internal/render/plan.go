// Package render turns the clip store snapshot into a timeline and
// drives the export: trim/order resolution, transition compositing, the
// music bed and the encoding passes that produce the final file.
package render

import (
	"errors"
	"fmt"

	"github.com/reelcut/reelcut-engine/internal/clips"
)

// ErrEmptyPlan means no ready clip survived resolution; export is
// blocked before any subprocess is spawned.
var ErrEmptyPlan = errors.New("no ready clips to render")

// Unit is one trimmed clip in timeline order.
type Unit struct {
	ClipID   string
	Path     string
	TrimIn   float64
	TrimOut  float64
	HasAudio bool
}

// Length is the trimmed duration the unit contributes to the timeline.
func (u Unit) Length() float64 {
	return u.TrimOut - u.TrimIn
}

// BuildPlan is the single validation gate before expensive work begins.
// Clips that failed ingest are excluded; clips still loading are not
// renderable either. Trim invariants are re-checked on the snapshot.
func BuildPlan(snap *clips.Snapshot) ([]Unit, error) {
	var units []Unit
	for _, c := range snap.Clips {
		if c.Status != clips.ClipStatusReady {
			continue
		}
		if c.TrimOut <= c.TrimIn || c.TrimOut > c.Duration || c.TrimIn < 0 {
			return nil, fmt.Errorf("clip %s has invalid trim %.3f-%.3f (duration %.3f)",
				c.Filename, c.TrimIn, c.TrimOut, c.Duration)
		}
		units = append(units, Unit{
			ClipID:   c.ID,
			Path:     c.Path,
			TrimIn:   c.TrimIn,
			TrimOut:  c.TrimOut,
			HasAudio: c.HasAudio,
		})
	}

	if len(units) == 0 {
		return nil, ErrEmptyPlan
	}
	return units, nil
}
