// Package status holds the single-slot user-visible error surface.
// Engine errors live on jobs and clips; this slot is the presentation
// collapse where the last error wins.
package status

import "sync"

// Surface retains at most one outstanding error message. Setting a new
// one overwrites the previous, dismissing clears it. It is not a queue.
type Surface struct {
	mu      sync.Mutex
	current string
}

func NewSurface() *Surface {
	return &Surface{}
}

// Set records msg as the current error, replacing any previous one.
// Empty messages are ignored.
func (s *Surface) Set(msg string) {
	if msg == "" {
		return
	}
	s.mu.Lock()
	s.current = msg
	s.mu.Unlock()
}

// Current returns the outstanding error message, empty when none.
func (s *Surface) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Dismiss clears the slot. It has no effect on in-progress jobs.
func (s *Surface) Dismiss() {
	s.mu.Lock()
	s.current = ""
	s.mu.Unlock()
}
