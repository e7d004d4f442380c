package client

import (
	"context"
	"time"

	"github.com/meshfield/meshmap/internal/timeutil"
)

// Fix is one GPS position report.
type Fix struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Accuracy  *float64
	Time      time.Time
}

// GPSSource yields position fixes in watch mode. The returned channel is
// closed when the context is cancelled or the source runs dry.
type GPSSource interface {
	Watch(ctx context.Context) (<-chan Fix, error)
}

// FixedSource reports the same position on a fixed cadence. Useful for
// bench testing a survey rig that is not actually moving.
type FixedSource struct {
	Fix      Fix
	Interval time.Duration
	Clock    timeutil.Clock
}

func (s *FixedSource) Watch(ctx context.Context) (<-chan Fix, error) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	out := make(chan Fix)
	go func() {
		defer close(out)
		ticker := clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			fix := s.Fix
			fix.Time = clock.Now()
			select {
			case out <- fix:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
