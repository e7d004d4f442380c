package client

import (
	"testing"
	"time"

	"github.com/meshfield/meshmap/internal/timeutil"
)

func TestStatusAreaTransientExpires(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	status := NewStatusArea(clock)

	status.SetPersistent("connected")
	status.Flash("measurement saved")

	if got := status.Current(); got != "measurement saved" {
		t.Errorf("Current() = %q, want the transient message", got)
	}

	clock.Advance(TransientStatusTTL - time.Second)
	if got := status.Current(); got != "measurement saved" {
		t.Errorf("Current() = %q before the TTL elapsed", got)
	}

	clock.Advance(2 * time.Second)
	if got := status.Current(); got != "connected" {
		t.Errorf("Current() = %q, want the persistent state back", got)
	}
}

func TestStatusAreaPersistentUpdatesUnderTransient(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	status := NewStatusArea(clock)

	status.SetPersistent("connected")
	status.Flash("request timed out")
	status.SetPersistent("waiting for radio")

	if got := status.Current(); got != "request timed out" {
		t.Errorf("Current() = %q, want the transient message", got)
	}
	clock.Advance(TransientStatusTTL + time.Millisecond)
	if got := status.Current(); got != "waiting for radio" {
		t.Errorf("Current() = %q, want the updated persistent state", got)
	}
}

func TestStatusAreaEmpty(t *testing.T) {
	status := NewStatusArea(nil)
	if got := status.Current(); got != "" {
		t.Errorf("Current() = %q on a fresh area", got)
	}
}
