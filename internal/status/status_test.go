package status

import "testing"

func TestSurface_LastErrorWins(t *testing.T) {
	s := NewSurface()
	if s.Current() != "" {
		t.Fatalf("new surface = %q, want empty", s.Current())
	}

	s.Set("first failure")
	s.Set("second failure")
	if got := s.Current(); got != "second failure" {
		t.Fatalf("current = %q, want the newer error", got)
	}
}

func TestSurface_DismissClears(t *testing.T) {
	s := NewSurface()
	s.Set("boom")
	s.Dismiss()
	if s.Current() != "" {
		t.Fatalf("current after dismiss = %q, want empty", s.Current())
	}

	// Dismissing an empty slot is fine.
	s.Dismiss()
}

func TestSurface_IgnoresEmptyMessages(t *testing.T) {
	s := NewSurface()
	s.Set("real error")
	s.Set("")
	if got := s.Current(); got != "real error" {
		t.Fatalf("current = %q, empty set must not clear", got)
	}
}
