package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshfield/meshmap/internal/monitoring"
	"github.com/meshfield/meshmap/internal/timeutil"
	"github.com/meshfield/meshmap/internal/wire"
)

// CollectTimeout bounds a single measurement round trip. It sits above the
// radio's trace timeout so a slow trace comes back as a trace-failed
// measurement instead of a client-side timeout.
const CollectTimeout = 15 * time.Second

var (
	// ErrTimeout means no confirmation arrived within CollectTimeout.
	ErrTimeout = errors.New("timed out waiting for measurement confirmation")

	// ErrCollectPending rejects a collect started while another is still
	// in flight.
	ErrCollectPending = errors.New("a measurement request is already pending")
)

// Requester is the slice of Channel the collector needs. The collector owns
// the request id so its correlation entry exists before the frame goes out.
type Requester interface {
	RequestMeasurement(requestID, sessionID string) error
}

// outcome resolves one pending request.
type outcome struct {
	saved wire.MeasurementSaved
	err   error
}

// Collector turns fire-and-forget measurement requests into awaitable
// results, correlating replies by request id.
type Collector struct {
	ch       Requester
	clock    timeutil.Clock
	timeout  time.Duration
	onResult func(wire.MeasurementSaved)

	mu        sync.Mutex
	pending   map[string]chan outcome
	collected int
	skipped   int

	tickerMu   sync.Mutex
	tickerStop context.CancelFunc
}

// NewCollector creates a collector over the given channel. A nil clock
// defaults to the real one; a zero timeout defaults to CollectTimeout.
// onResult, if non-nil, is invoked for every confirmed measurement and is
// the sole notification path for continuous collection.
func NewCollector(ch Requester, clock timeutil.Clock, timeout time.Duration, onResult func(wire.MeasurementSaved)) *Collector {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if timeout <= 0 {
		timeout = CollectTimeout
	}
	return &Collector{
		ch:       ch,
		clock:    clock,
		timeout:  timeout,
		onResult: onResult,
		pending:  make(map[string]chan outcome),
	}
}

// Collected returns how many measurements have been confirmed.
func (c *Collector) Collected() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collected
}

// Skipped returns how many continuous ticks were dropped because a request
// was still pending.
func (c *Collector) Skipped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skipped
}

// CollectOnce requests one measurement and waits for its confirmation.
// A second call while one is pending fails with ErrCollectPending.
func (c *Collector) CollectOnce(ctx context.Context, sessionID string) (wire.MeasurementSaved, error) {
	requestID := uuid.NewString()

	c.mu.Lock()
	if len(c.pending) > 0 {
		c.mu.Unlock()
		return wire.MeasurementSaved{}, ErrCollectPending
	}
	// The entry goes in under the final id before the frame is written, so
	// even a confirmation arriving mid-write finds its slot.
	resultCh := make(chan outcome, 1)
	c.pending[requestID] = resultCh
	c.mu.Unlock()

	if err := c.ch.RequestMeasurement(requestID, sessionID); err != nil {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return wire.MeasurementSaved{}, fmt.Errorf("failed to request measurement: %w", err)
	}

	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	deadline := c.clock.NewTimer(c.timeout)
	defer deadline.Stop()

	select {
	case out := <-resultCh:
		if out.err != nil {
			return wire.MeasurementSaved{}, out.err
		}
		c.mu.Lock()
		c.collected++
		c.mu.Unlock()
		if c.onResult != nil {
			c.onResult(out.saved)
		}
		return out.saved, nil

	case <-deadline.C():
		return wire.MeasurementSaved{}, ErrTimeout

	case <-ctx.Done():
		return wire.MeasurementSaved{}, ctx.Err()
	}
}

// HandleSaved resolves the pending request matching the confirmation, if
// any. Stale confirmations (already timed out) are logged and dropped.
// Wire this to the channel's MeasurementSaved event.
func (c *Collector) HandleSaved(msg wire.MeasurementSaved) {
	c.mu.Lock()
	resultCh, ok := c.pending[msg.RequestID]
	c.mu.Unlock()
	if !ok {
		monitoring.Logf("collector: dropping confirmation for unknown request %s", msg.RequestID)
		return
	}
	resultCh <- outcome{saved: msg}
}

// HandleError fails the pending request the error correlates with. Errors
// without a request id belong to someone else and are ignored here.
func (c *Collector) HandleError(msg wire.Error) {
	if msg.RequestID == "" {
		return
	}
	c.mu.Lock()
	resultCh, ok := c.pending[msg.RequestID]
	c.mu.Unlock()
	if !ok {
		return
	}
	resultCh <- outcome{err: fmt.Errorf("measurement rejected: %s", msg.Message)}
}

// HandleDisconnect fails every pending request. A request in flight across
// a disconnect resolves as an error rather than hanging until timeout.
func (c *Collector) HandleDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, resultCh := range c.pending {
		select {
		case resultCh <- outcome{err: fmt.Errorf("channel disconnected: %w", ErrNotConnected)}:
		default:
		}
		delete(c.pending, id)
	}
}

// StartContinuous collects immediately, then on every tick. Ticks that land
// while a request is still pending are counted and skipped. Stop halts the
// ticks; an in-flight request is left to finish on its own.
func (c *Collector) StartContinuous(ctx context.Context, sessionID string, interval time.Duration) {
	c.tickerMu.Lock()
	if c.tickerStop != nil {
		c.tickerMu.Unlock()
		monitoring.Logf("collector: continuous collection already running")
		return
	}
	tickCtx, stop := context.WithCancel(ctx)
	c.tickerStop = stop
	c.tickerMu.Unlock()

	go func() {
		// Each collect runs off the tick loop so a slow round trip never
		// delays the next tick; overlap resolves as a counted skip.
		go c.collectTick(tickCtx, sessionID)

		ticker := c.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C():
				go c.collectTick(tickCtx, sessionID)
			}
		}
	}()
}

// collectTick runs one continuous-mode collect, skipping when one is
// already pending. The collect itself is detached from the tick context so
// Stop halts ticks without cancelling a request already in flight.
func (c *Collector) collectTick(ctx context.Context, sessionID string) {
	_, err := c.CollectOnce(context.WithoutCancel(ctx), sessionID)
	switch {
	case err == nil:
	case errors.Is(err, ErrCollectPending):
		c.mu.Lock()
		c.skipped++
		skipped := c.skipped
		c.mu.Unlock()
		monitoring.Logf("collector: tick skipped, request still pending (%d skipped so far)", skipped)
	case errors.Is(err, context.Canceled):
	default:
		monitoring.Logf("collector: collect failed: %v", err)
	}
}

// Stop halts continuous collection. Idempotent; never cancels an in-flight
// request.
func (c *Collector) Stop() {
	c.tickerMu.Lock()
	defer c.tickerMu.Unlock()
	if c.tickerStop != nil {
		c.tickerStop()
		c.tickerStop = nil
	}
}
