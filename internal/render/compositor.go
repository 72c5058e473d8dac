package render

import (
	"github.com/reelcut/reelcut-engine/internal/clips"
)

// Timeline is the composed render plan: N units plus N-1 transitions of
// one global style between adjacent pairs.
//
// Transitions OVERLAP adjacent clips (cross-fade semantics): each one
// consumes Transition.Duration seconds of the combined length, so
// TotalDuration = sum(unit lengths) - (N-1)*duration. A cut transition
// concatenates without overlap and ignores the configured duration.
type Timeline struct {
	Units         []Unit
	Transition    clips.TransitionConfig
	TotalDuration float64
}

// Compose expands the render units into a timeline. A single unit skips
// compositing entirely and passes through. When the configured
// transition is longer than the shortest clip allows, it is shortened
// to half that clip so every xfade offset stays positive.
func Compose(units []Unit, tc clips.TransitionConfig) *Timeline {
	sum := 0.0
	minLen := 0.0
	for i, u := range units {
		l := u.Length()
		sum += l
		if i == 0 || l < minLen {
			minLen = l
		}
	}

	t := &Timeline{Units: units, Transition: tc}

	if len(units) == 1 || tc.Type == clips.TransitionCut {
		t.Transition.Duration = 0
		if tc.Type != clips.TransitionCut {
			t.Transition.Type = clips.TransitionCut
		}
		t.TotalDuration = sum
		return t
	}

	if t.Transition.Duration >= minLen {
		t.Transition.Duration = minLen / 2
	}

	t.TotalDuration = sum - float64(len(units)-1)*t.Transition.Duration
	return t
}
