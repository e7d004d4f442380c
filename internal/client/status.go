package client

import (
	"sync"
	"time"

	"github.com/meshfield/meshmap/internal/timeutil"
)

// TransientStatusTTL is how long a flashed message stays visible before the
// status area falls back to its persistent state.
const TransientStatusTTL = 5 * time.Second

// StatusArea holds the survey UI's status line: a persistent state string
// overlaid by transient messages that expire on their own. Safe for use from
// the channel's callback goroutine.
type StatusArea struct {
	clock timeutil.Clock

	mu             sync.Mutex
	persistent     string
	transient      string
	transientUntil time.Time
}

// NewStatusArea creates a status area. A nil clock defaults to the real one.
func NewStatusArea(clock timeutil.Clock) *StatusArea {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &StatusArea{clock: clock}
}

// SetPersistent replaces the stable state shown when nothing transient is up.
func (s *StatusArea) SetPersistent(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistent = msg
}

// Flash shows a transient message that dismisses itself after
// TransientStatusTTL.
func (s *StatusArea) Flash(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transient = msg
	s.transientUntil = s.clock.Now().Add(TransientStatusTTL)
}

// Current returns the visible status: the transient message until it
// expires, the persistent state after.
func (s *StatusArea) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transient != "" && s.clock.Now().Before(s.transientUntil) {
		return s.transient
	}
	s.transient = ""
	return s.persistent
}
