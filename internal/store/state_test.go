package store

import (
	"testing"
	"time"
)

func TestEventLocks(t *testing.T) {
	t.Parallel()
	s, err := OpenState(t.TempDir())
	if err != nil {
		t.Fatalf("OpenState: %v", err)
	}

	if s.EventLocked("EVT") {
		t.Error("fresh event should not be locked")
	}
	_ = s.LockEvent("EVT")
	if !s.EventLocked("EVT") {
		t.Error("LockEvent did not take")
	}
	_ = s.UnlockEvent("EVT")
	if s.EventLocked("EVT") {
		t.Error("UnlockEvent did not take")
	}
}

func TestCooldownLifecycle(t *testing.T) {
	t.Parallel()
	s, _ := OpenState(t.TempDir())
	now := time.Now()

	_ = s.SetCooldown("EVT2", now.Add(10*time.Minute), 0.44)

	in, entry := s.InCooldown("EVT2", now)
	if !in || entry != 0.44 {
		t.Errorf("InCooldown = %v, %v; want true, 0.44", in, entry)
	}

	// Expired by time.
	if in, _ := s.InCooldown("EVT2", now.Add(11*time.Minute)); in {
		t.Error("cooldown should expire")
	}

	// Cleared by price recovery.
	_ = s.ClearCooldown("EVT2")
	if in, _ := s.InCooldown("EVT2", now); in {
		t.Error("cleared cooldown still active")
	}
}

func TestSevenPctExitedIsSticky(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, _ := OpenState(dir)

	_ = s.MarkSevenPctExited("EVT")
	if !s.SevenPctExited("EVT") {
		t.Fatal("mark did not take")
	}

	// Survives a restart; there is no unmark.
	s2, err := OpenState(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !s2.SevenPctExited("EVT") {
		t.Error("seven-pct flag lost across restart")
	}
}

func TestFirstDetectionIsStable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, _ := OpenState(dir)

	t0 := time.Now().UTC().Truncate(time.Second)
	ts, err := s.FirstDetection("EVT", t0)
	if err != nil {
		t.Fatalf("FirstDetection: %v", err)
	}
	if !ts.Equal(t0) {
		t.Errorf("first call = %v, want %v", ts, t0)
	}

	// Later sightings return the original timestamp.
	ts, _ = s.FirstDetection("EVT", t0.Add(time.Hour))
	if !ts.Equal(t0) {
		t.Errorf("second call = %v, want %v", ts, t0)
	}

	s2, _ := OpenState(dir)
	ts, _ = s2.FirstDetection("EVT", t0.Add(2*time.Hour))
	if !ts.Equal(t0) {
		t.Errorf("after restart = %v, want %v", ts, t0)
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, _ := OpenState(dir)
	now := time.Now()

	_ = s.LockEvent("EVT")
	_ = s.SetCooldown("EVT2", now.Add(10*time.Minute), 0.44)

	s2, err := OpenState(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !s2.EventLocked("EVT") {
		t.Error("event lock lost across restart")
	}
	if in, entry := s2.InCooldown("EVT2", now); !in || entry != 0.44 {
		t.Error("cooldown lost across restart")
	}
}
