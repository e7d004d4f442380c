// Package stream is the Pi-side WebSocket endpoint the field client talks to.
// Each connection gets its own goroutine and carries its own latest GPS fix;
// measurement requests combine that fix with a fresh radio trace.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/meshfield/meshmap/internal/db"
	"github.com/meshfield/meshmap/internal/monitoring"
	"github.com/meshfield/meshmap/internal/radio"
	"github.com/meshfield/meshmap/internal/timeutil"
	"github.com/meshfield/meshmap/internal/wire"
)

// DefaultGPSStalenessBound is how old the latest streamed fix may be when a
// measurement request arrives. Older fixes are rejected rather than pinning
// a reading to a position the surveyor has since walked away from.
const DefaultGPSStalenessBound = 30 * time.Second

// Server accepts mapping channels over WebSocket.
type Server struct {
	db             *db.DB
	radio          radio.Tracer
	clock          timeutil.Clock
	stalenessBound time.Duration
}

// NewServer creates a stream server. A nil clock defaults to the real one;
// a zero staleness bound defaults to DefaultGPSStalenessBound.
func NewServer(database *db.DB, tracer radio.Tracer, clock timeutil.Clock, stalenessBound time.Duration) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if stalenessBound <= 0 {
		stalenessBound = DefaultGPSStalenessBound
	}
	return &Server{db: database, radio: tracer, clock: clock, stalenessBound: stalenessBound}
}

// RegisterRoutes mounts the WebSocket endpoint on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/mapping", s.HandleMapping)
}

// HandleMapping upgrades the request and runs the channel until the peer
// disconnects.
func (s *Server) HandleMapping(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The Pi serves phones on the local survey network, not a public
		// origin; the REST surface carries the same trust assumption.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		monitoring.Logf("stream: accept failed: %v", err)
		return
	}
	defer ws.CloseNow()

	c := &channel{srv: s, ws: ws}
	c.run(r.Context())
}

// channel is one accepted mapping connection.
type channel struct {
	srv *Server
	ws  *websocket.Conn

	mu    sync.Mutex
	fix   *wire.GPSData
	fixAt time.Time
}

func (c *channel) run(ctx context.Context) {
	if err := c.send(ctx, wire.NewConnected("mapping channel open")); err != nil {
		monitoring.Logf("stream: failed to send connected ack: %v", err)
		return
	}
	c.sendRadioStatus(ctx)

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				monitoring.Logf("stream: channel closed by peer")
			} else if ctx.Err() == nil {
				monitoring.Logf("stream: read error: %v", err)
			}
			return
		}
		c.dispatch(ctx, data)
	}
}

// dispatch routes one inbound message. Bad messages get an error reply; the
// connection stays up.
func (c *channel) dispatch(ctx context.Context, data []byte) {
	msg, err := wire.Unmarshal(data)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownType) {
			monitoring.Logf("stream: ignoring %v", err)
			return
		}
		c.sendError(ctx, "", fmt.Sprintf("malformed message: %v", err))
		return
	}

	switch m := msg.(type) {
	case *wire.GPSData:
		c.updateFix(m)
	case *wire.RadioStatusRequest:
		c.sendRadioStatus(ctx)
	case *wire.RequestMeasurement:
		// Traces take seconds; handle off the read loop so GPS updates
		// keep flowing while the radio works.
		go c.handleMeasurement(ctx, m)
	default:
		monitoring.Logf("stream: ignoring unexpected %T from client", msg)
	}
}

// updateFix is the GPS hot path: store and return, no replies, no I/O.
func (c *channel) updateFix(fix *wire.GPSData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fix = fix
	c.fixAt = c.srv.clock.Now()
}

// latestFix returns the current fix if one exists and is fresh enough.
func (c *channel) latestFix() (*wire.GPSData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fix == nil {
		return nil, errors.New("no GPS fix received yet")
	}
	if age := c.srv.clock.Since(c.fixAt); age > c.srv.stalenessBound {
		return nil, fmt.Errorf("GPS fix is %v old, bound is %v", age.Round(time.Second), c.srv.stalenessBound)
	}
	return c.fix, nil
}

func (c *channel) handleMeasurement(ctx context.Context, req *wire.RequestMeasurement) {
	session, err := c.srv.db.GetSession(req.SessionID)
	if err != nil {
		c.sendError(ctx, req.RequestID, fmt.Sprintf("unknown session: %v", err))
		return
	}
	if !session.IsActive() {
		c.sendError(ctx, req.RequestID, "session is already ended")
		return
	}

	fix, err := c.latestFix()
	if err != nil {
		c.sendError(ctx, req.RequestID, err.Error())
		return
	}

	target, err := c.srv.db.GetNode(session.TargetNode)
	if err != nil {
		c.sendError(ctx, req.RequestID, fmt.Sprintf("target node: %v", err))
		return
	}

	pair, traceErr := c.srv.radio.Trace(ctx, target.ShortHash())
	if traceErr != nil {
		// A failed trace is still a data point: record where coverage
		// was absent with sentinel readings.
		monitoring.Logf("stream: trace to %s failed: %v", target.ShortHash(), traceErr)
		pair = radio.SNRPair{}
	} else {
		now := c.srv.clock.Now().UnixMilli()
		c.send(ctx, wire.NewSignalData(pair.SNRToTarget, pair.SNRFromTarget, now))
	}

	m, err := c.srv.db.RecordMeasurement(db.Measurement{
		SessionID:     req.SessionID,
		Latitude:      fix.Latitude,
		Longitude:     fix.Longitude,
		Altitude:      fix.Altitude,
		GPSAccuracy:   fix.Accuracy,
		SNRToTarget:   pair.SNRToTarget,
		SNRFromTarget: pair.SNRFromTarget,
		TraceSuccess:  traceErr == nil,
	})
	if err != nil {
		c.sendError(ctx, req.RequestID, fmt.Sprintf("failed to save measurement: %v", err))
		return
	}

	c.send(ctx, wire.MeasurementSaved{
		Type:          wire.TypeMeasurementSaved,
		RequestID:     req.RequestID,
		MeasurementID: m.ID,
		SNRToTarget:   m.SNRToTarget,
		SNRFromTarget: m.SNRFromTarget,
		TraceSuccess:  m.TraceSuccess,
		Latitude:      m.Latitude,
		Longitude:     m.Longitude,
	})
}

func (c *channel) sendRadioStatus(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, radio.PingTimeout+time.Second)
	defer cancel()

	status := wire.NewRadioStatus(true, "")
	if err := c.srv.radio.CheckConnection(probeCtx); err != nil {
		status = wire.NewRadioStatus(false, err.Error())
	}
	c.send(ctx, status)
}

func (c *channel) sendError(ctx context.Context, requestID, message string) {
	c.send(ctx, wire.NewError(requestID, message))
}

func (c *channel) send(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %T: %w", msg, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to write %T: %w", msg, err)
	}
	return nil
}
