// Package killswitch holds the administrative toggle that bypasses rate
// limiting without a restart.
//
// The Switch starts from the static disable-rate-limits setting. A Watcher can
// keep it in sync with an SSM parameter so operators flip it fleet-wide.
package killswitch

import (
	"sync"
	"sync/atomic"
	"time"
)

// Switch is safe for concurrent use. The zero value is enabled (limits on).
type Switch struct {
	disabled atomic.Bool

	mu        sync.Mutex
	source    string
	changedAt time.Time
	onChange  func(disabled bool)
}

// New returns a switch seeded from the static configuration.
func New(disabled bool) *Switch {
	s := &Switch{source: "config", changedAt: time.Now()}
	s.disabled.Store(disabled)
	return s
}

// Disabled reports whether rate limits are currently bypassed.
func (s *Switch) Disabled() bool {
	if s == nil {
		return false
	}
	return s.disabled.Load()
}

// OnChange registers fn to run after every transition. Only one callback is kept.
func (s *Switch) OnChange(fn func(disabled bool)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Set stores the new state and reports whether it changed.
func (s *Switch) Set(disabled bool, source string) bool {
	if s.disabled.Swap(disabled) == disabled {
		return false
	}
	s.mu.Lock()
	s.source = source
	s.changedAt = time.Now()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(disabled)
	}
	return true
}

// State describes the switch for the admin endpoint.
type State struct {
	Disabled  bool      `json:"disabled"`
	Source    string    `json:"source"`
	ChangedAt time.Time `json:"changed_at"`
}

func (s *Switch) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Disabled: s.disabled.Load(), Source: s.source, ChangedAt: s.changedAt}
}
