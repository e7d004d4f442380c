// Package client is the field-side half of the mapping channel: it keeps a
// WebSocket open to the Pi, streams GPS fixes, requests measurements, and
// tracks the survey session's state.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/meshfield/meshmap/internal/monitoring"
	"github.com/meshfield/meshmap/internal/timeutil"
	"github.com/meshfield/meshmap/internal/wire"
)

// DefaultReconnectDelay is the fixed pause between reconnect attempts.
const DefaultReconnectDelay = 5 * time.Second

// ConnState is the channel's transport-level connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// ErrNotConnected is returned for requests made while the channel is down.
var ErrNotConnected = errors.New("channel is not connected")

// Events carries the channel's callbacks. Nil fields are skipped. All
// callbacks run on the channel's read goroutine, so they must not block.
type Events struct {
	Connected        func(wire.Connected)
	RadioStatus      func(wire.RadioStatus)
	SignalData       func(wire.SignalData)
	MeasurementSaved func(wire.MeasurementSaved)
	ErrorMsg         func(wire.Error)
	StateChange      func(ConnState)
}

// Channel manages one mapping connection to the Pi, reconnecting with a
// fixed delay whenever the transport drops.
type Channel struct {
	url            string
	gps            GPSSource
	clock          timeutil.Clock
	reconnectDelay time.Duration
	events         Events

	mu       sync.Mutex
	state    ConnState
	ws       *websocket.Conn
	cancel   context.CancelFunc
	attempts int
}

// NewChannel creates a channel client for the given ws:// URL. A nil clock
// defaults to the real one; a zero delay defaults to DefaultReconnectDelay.
func NewChannel(url string, gps GPSSource, clock timeutil.Clock, reconnectDelay time.Duration, events Events) *Channel {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &Channel{
		url:            url,
		gps:            gps,
		clock:          clock,
		reconnectDelay: reconnectDelay,
		events:         events,
	}
}

// State returns the current transport state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns how many dials have been made since Connect.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Channel) setState(s ConnState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.events.StateChange != nil {
		c.events.StateChange(s)
	}
}

// Connect dials the Pi and resolves once the connected ack arrives. On
// success it starts GPS streaming and the read loop; from then on the
// channel maintains itself, redialing after every transport drop until
// Disconnect is called.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("channel already started")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.setState(StateConnecting)
	ws, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		c.setState(StateDisconnected)
		return err
	}

	c.startSession(runCtx, ws)
	return nil
}

// dial opens the socket and waits for the connected ack.
func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()

	ws, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.url, err)
	}

	ackCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, data, err := ws.Read(ackCtx)
	if err != nil {
		ws.CloseNow()
		return nil, fmt.Errorf("no ack from server: %w", err)
	}
	msg, err := wire.Unmarshal(data)
	if err != nil {
		ws.CloseNow()
		return nil, fmt.Errorf("bad ack from server: %w", err)
	}
	ack, ok := msg.(*wire.Connected)
	if !ok {
		ws.CloseNow()
		return nil, fmt.Errorf("expected connected ack, got %T", msg)
	}
	if c.events.Connected != nil {
		c.events.Connected(*ack)
	}
	return ws, nil
}

// startSession installs the socket and spins up the read and GPS loops.
func (c *Channel) startSession(runCtx context.Context, ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.setState(StateConnected)

	sessionCtx, endSession := context.WithCancel(runCtx)
	go c.readLoop(runCtx, sessionCtx, endSession, ws)
	if c.gps != nil {
		go c.streamGPS(sessionCtx)
	}
}

// readLoop consumes messages until the socket drops, then hands off to the
// reconnect loop unless the channel was shut down.
func (c *Channel) readLoop(runCtx, sessionCtx context.Context, endSession context.CancelFunc, ws *websocket.Conn) {
	defer endSession()

	for {
		_, data, err := ws.Read(sessionCtx)
		if err != nil {
			c.mu.Lock()
			c.ws = nil
			c.mu.Unlock()
			ws.CloseNow()

			if runCtx.Err() != nil {
				c.setState(StateDisconnected)
				return
			}
			monitoring.Logf("channel: connection lost: %v", err)
			endSession()
			c.reconnectLoop(runCtx)
			return
		}
		c.dispatch(data)
	}
}

// reconnectLoop redials with a fixed delay until it succeeds or the channel
// is shut down. One timer at a time.
func (c *Channel) reconnectLoop(runCtx context.Context) {
	c.setState(StateConnecting)
	for {
		timer := c.clock.NewTimer(c.reconnectDelay)
		select {
		case <-runCtx.Done():
			timer.Stop()
			c.setState(StateDisconnected)
			return
		case <-timer.C():
		}

		ws, err := c.dial(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				c.setState(StateDisconnected)
				return
			}
			monitoring.Logf("channel: reconnect failed: %v", err)
			continue
		}
		c.startSession(runCtx, ws)
		return
	}
}

// dispatch routes one server message to its callback. Unknown tags are
// logged and dropped.
func (c *Channel) dispatch(data []byte) {
	msg, err := wire.Unmarshal(data)
	if err != nil {
		monitoring.Logf("channel: ignoring message: %v", err)
		return
	}

	switch m := msg.(type) {
	case *wire.Connected:
		if c.events.Connected != nil {
			c.events.Connected(*m)
		}
	case *wire.RadioStatus:
		if c.events.RadioStatus != nil {
			c.events.RadioStatus(*m)
		}
	case *wire.SignalData:
		if c.events.SignalData != nil {
			c.events.SignalData(*m)
		}
	case *wire.MeasurementSaved:
		if c.events.MeasurementSaved != nil {
			c.events.MeasurementSaved(*m)
		}
	case *wire.Error:
		if c.events.ErrorMsg != nil {
			c.events.ErrorMsg(*m)
		}
	default:
		monitoring.Logf("channel: ignoring unexpected %T from server", msg)
	}
}

// streamGPS forwards fixes from the source for as long as this session
// lives. Send failures are dropped; the read loop owns error handling.
func (c *Channel) streamGPS(sessionCtx context.Context) {
	fixes, err := c.gps.Watch(sessionCtx)
	if err != nil {
		monitoring.Logf("channel: GPS source failed: %v", err)
		return
	}
	for {
		select {
		case <-sessionCtx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				return
			}
			c.SendLocation(fix)
		}
	}
}

// SendLocation streams one fix to the Pi. Fire and forget: silently dropped
// when the channel is down.
func (c *Channel) SendLocation(fix Fix) {
	msg := wire.NewGPSData(fix.Latitude, fix.Longitude, fix.Altitude, fix.Accuracy, fix.Time.UnixMilli())
	if err := c.write(msg); err != nil && !errors.Is(err, ErrNotConnected) {
		monitoring.Logf("channel: failed to send location: %v", err)
	}
}

// RequestMeasurement asks the Pi for a measurement against the session's
// target. The caller supplies the request id and must have its correlation
// entry in place before calling, or a fast confirmation can slip past it.
func (c *Channel) RequestMeasurement(requestID, sessionID string) error {
	return c.write(wire.NewRequestMeasurement(requestID, sessionID))
}

// RequestRadioStatus asks the Pi to probe the radio.
func (c *Channel) RequestRadioStatus() error {
	return c.write(wire.NewRadioStatusRequest())
}

func (c *Channel) write(msg any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %T: %w", msg, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to write %T: %w", msg, err)
	}
	return nil
}

// Disconnect shuts the channel down: GPS streaming stops, the reconnect
// timer is cancelled, the socket closes. Safe to call more than once.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	ws := c.ws
	c.cancel = nil
	c.ws = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	c.setState(StateDisconnected)
}
