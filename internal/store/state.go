package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const stateFile = "state.json"

// Cooldown records a stop-loss exit: no re-entry into the event until it
// expires, or until the market trades back above the price we stopped at.
type Cooldown struct {
	Until            time.Time `json:"until"`
	EntryPriceAtStop float64   `json:"entry_price_at_stop"`
}

type engineState struct {
	EventLocks          map[string]bool      `json:"event_locks"`
	StopLossCooldowns   map[string]Cooldown  `json:"stop_loss_cooldowns"`
	SevenPctExited      map[string]bool      `json:"seven_pct_exited"`
	FirstDetectionTimes map[string]time.Time `json:"first_detection_times"`
}

// StateStore holds the auxiliary durable flags the engine consults between
// restarts. Same write-through atomic-rename persistence as the ledger.
type StateStore struct {
	mu    sync.Mutex
	path  string
	state engineState
}

// OpenState loads the auxiliary state from dir, starting empty if absent.
func OpenState(dir string) (*StateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &StateStore{
		path: filepath.Join(dir, stateFile),
		state: engineState{
			EventLocks:          make(map[string]bool),
			StopLossCooldowns:   make(map[string]Cooldown),
			SevenPctExited:      make(map[string]bool),
			FirstDetectionTimes: make(map[string]time.Time),
		},
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	// Maps omitted from an older file come back nil.
	if s.state.EventLocks == nil {
		s.state.EventLocks = make(map[string]bool)
	}
	if s.state.StopLossCooldowns == nil {
		s.state.StopLossCooldowns = make(map[string]Cooldown)
	}
	if s.state.SevenPctExited == nil {
		s.state.SevenPctExited = make(map[string]bool)
	}
	if s.state.FirstDetectionTimes == nil {
		s.state.FirstDetectionTimes = make(map[string]time.Time)
	}
	return s, nil
}

func (s *StateStore) persistLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// LockEvent blocks further entries into an event (half-hedged book).
func (s *StateStore) LockEvent(eventTicker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.EventLocks[eventTicker] = true
	return s.persistLocked()
}

// UnlockEvent lifts the event lock.
func (s *StateStore) UnlockEvent(eventTicker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.EventLocks, eventTicker)
	return s.persistLocked()
}

// EventLocked reports whether entries into the event are blocked.
func (s *StateStore) EventLocked(eventTicker string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.EventLocks[eventTicker]
}

// SetCooldown starts a stop-loss cooldown on an event, remembering the
// entry price at the time of the stop for the recovery check.
func (s *StateStore) SetCooldown(eventTicker string, until time.Time, entryPriceAtStop float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.StopLossCooldowns[eventTicker] = Cooldown{Until: until, EntryPriceAtStop: entryPriceAtStop}
	return s.persistLocked()
}

// InCooldown reports whether the event is still cooling down at now, and
// the entry price recorded at the stop.
func (s *StateStore) InCooldown(eventTicker string, now time.Time) (bool, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cd, ok := s.state.StopLossCooldowns[eventTicker]
	if !ok || now.After(cd.Until) {
		return false, 0
	}
	return true, cd.EntryPriceAtStop
}

// ClearCooldown ends a cooldown early (price recovered above the stop
// entry).
func (s *StateStore) ClearCooldown(eventTicker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.StopLossCooldowns[eventTicker]; !ok {
		return nil
	}
	delete(s.state.StopLossCooldowns, eventTicker)
	return s.persistLocked()
}

// MarkSevenPctExited permanently blocks re-entry into an event after the
// absolute-profit exit fired on it.
func (s *StateStore) MarkSevenPctExited(eventTicker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SevenPctExited[eventTicker] = true
	return s.persistLocked()
}

// SevenPctExited reports whether the event took the absolute-profit exit.
func (s *StateStore) SevenPctExited(eventTicker string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SevenPctExited[eventTicker]
}

// FirstDetection returns when the event was first seen by the scanner,
// recording now on first sight. The first-trade window is measured from
// this timestamp.
func (s *StateStore) FirstDetection(eventTicker string, now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.state.FirstDetectionTimes[eventTicker]; ok {
		return ts, nil
	}
	s.state.FirstDetectionTimes[eventTicker] = now
	return now, s.persistLocked()
}
