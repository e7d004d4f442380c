package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meshfield/meshmap/internal/monitoring"
	"github.com/meshfield/meshmap/internal/timeutil"
)

// TraceTimeout bounds how long a trace waits for the radio's response. The
// channel client's own collect deadline is deliberately longer, so a slow
// trace surfaces as a trace-failed measurement rather than a client timeout.
const TraceTimeout = 10 * time.Second

// PingTimeout bounds the device liveness probe.
const PingTimeout = 2 * time.Second

var (
	// ErrTraceTimeout means the radio accepted the trace command but no
	// trace response arrived in time.
	ErrTraceTimeout = errors.New("timed out waiting for trace response")

	// ErrDeviceUnreachable means the radio device is not answering even
	// though the serial port is open.
	ErrDeviceUnreachable = errors.New("radio device unreachable")
)

// Tracer is the device-level surface the stream server needs: an on-demand
// signal reading and a liveness probe.
type Tracer interface {
	// Trace sends a trace to the node with the given short hash and
	// returns the directional SNR pair from the response.
	Trace(ctx context.Context, nodeHash string) (SNRPair, error)

	// CheckConnection probes whether the radio device is responding.
	CheckConnection(ctx context.Context) error
}

// Interface implements Tracer on top of a Muxer. At most one trace runs at a
// time; the radio serializes trace packets anyway and interleaved responses
// could not be told apart.
type Interface struct {
	mux     Muxer
	clock   timeutil.Clock
	traceMu sync.Mutex
}

// NewInterface creates a radio interface over the given mux. A nil clock
// defaults to the real one.
func NewInterface(mux Muxer, clock timeutil.Clock) *Interface {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Interface{mux: mux, clock: clock}
}

// Trace sends a TRACE command for the node's short hash and waits for the
// matching trace frame. Frames of other kinds arriving meanwhile are skipped;
// they belong to the telemetry subscribers.
func (r *Interface) Trace(ctx context.Context, nodeHash string) (SNRPair, error) {
	r.traceMu.Lock()
	defer r.traceMu.Unlock()

	id, frames := r.mux.Subscribe()
	defer r.mux.Unsubscribe(id)

	started := r.clock.Now()
	if err := r.mux.SendCommand(fmt.Sprintf("TRACE %s", nodeHash)); err != nil {
		return SNRPair{}, fmt.Errorf("%w: %v", ErrDeviceUnreachable, err)
	}

	deadline := r.clock.NewTimer(TraceTimeout)
	defer deadline.Stop()

	for {
		select {
		case line, ok := <-frames:
			if !ok {
				return SNRPair{}, fmt.Errorf("%w: port closed", ErrDeviceUnreachable)
			}
			if ClassifyFrame(line) != FrameTypeTrace {
				continue
			}
			frame, err := ParseTrace(line)
			if err != nil {
				monitoring.Logf("discarding malformed trace frame: %v", err)
				continue
			}
			pair, err := frame.SNRs()
			if err != nil {
				return SNRPair{}, err
			}
			monitoring.Logf("trace to %s completed in %v: to=%.2f from=%.2f",
				nodeHash, r.clock.Since(started), pair.SNRToTarget, pair.SNRFromTarget)
			return pair, nil

		case <-deadline.C():
			return SNRPair{}, fmt.Errorf("%w after %v", ErrTraceTimeout, r.clock.Since(started))

		case <-ctx.Done():
			return SNRPair{}, ctx.Err()
		}
	}
}

// CheckConnection sends a PING and waits briefly for the pong frame.
func (r *Interface) CheckConnection(ctx context.Context) error {
	id, frames := r.mux.Subscribe()
	defer r.mux.Unsubscribe(id)

	if err := r.mux.SendCommand("PING"); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnreachable, err)
	}

	deadline := r.clock.NewTimer(PingTimeout)
	defer deadline.Stop()

	for {
		select {
		case line, ok := <-frames:
			if !ok {
				return fmt.Errorf("%w: port closed", ErrDeviceUnreachable)
			}
			if ClassifyFrame(line) == FrameTypePong {
				return nil
			}

		case <-deadline.C():
			return fmt.Errorf("%w: no response", ErrDeviceUnreachable)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
