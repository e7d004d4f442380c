package radio

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// TestablePort implements Porter with configurable behaviour for testing.
// It provides control over reads, writes, and errors without hardware.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	readCond *sync.Cond
}

// NewTestablePort creates a new TestablePort for testing.
func NewTestablePort() *TestablePort {
	p := &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// Read reads from the read buffer, optionally blocking until data arrives.
func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Closed {
		return 0, errors.New("radio port closed")
	}

	if p.ReadError != nil {
		err := p.ReadError
		p.ReadError = nil
		return 0, err
	}

	if p.BlockReads && p.ReadBuffer.Len() == 0 {
		for !p.Closed && p.ReadBuffer.Len() == 0 {
			p.readCond.Wait()
		}
		if p.Closed {
			return 0, errors.New("radio port closed")
		}
	}

	return p.ReadBuffer.Read(b)
}

// Write writes to the write buffer.
func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Closed {
		return 0, errors.New("radio port closed")
	}

	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}

	return p.WriteBuffer.Write(b)
}

// Close marks the port as closed and wakes any blocked readers.
func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Closed = true
	p.readCond.Broadcast()
	return p.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (p *TestablePort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ReadBuffer.Write(data)
	p.readCond.Signal()
}

// WrittenData returns all data written to the port.
func (p *TestablePort) WrittenData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.WriteBuffer.Bytes()
}

// ScriptedMux implements Muxer without a serial port. Commands are answered
// from a response table keyed by the command's first word, and an optional
// telemetry line is broadcast periodically while Monitor runs. Used in dev
// mode and in tests.
type ScriptedMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	responses   map[string][]string
	commands    []string
	sendErr     error
	closed      bool

	// TelemetryInterval enables periodic broadcast of TelemetryLine from
	// Monitor when > 0.
	TelemetryInterval time.Duration
	TelemetryLine     string
}

// NewScriptedMux creates an empty ScriptedMux; script it with Respond.
func NewScriptedMux() *ScriptedMux {
	return &ScriptedMux{
		subscribers: make(map[string]chan string),
		responses:   make(map[string][]string),
	}
}

// NewMockRadioMux creates a ScriptedMux with plausible canned responses for
// dev mode: traces succeed with mid-range SNRs and telemetry arrives every
// 15 seconds.
func NewMockRadioMux() *ScriptedMux {
	m := NewScriptedMux()
	m.Respond("TRACE", `{"path":[{"hash":"46","snr":-3.5},{"hash":"f0","snr":-5.25}]}`)
	m.Respond("PING", `{"pong":true}`)
	m.TelemetryInterval = 15 * time.Second
	m.TelemetryLine = `{"origin":"46","batt_milli_volts":3900,"curr_tx_queue_len":0,` +
		`"noise_floor":-110,"last_rssi":-72,"last_snr":5,"n_packets_recv":1200,"n_packets_sent":800,` +
		`"n_recv_flood":300,"n_recv_direct":900,"n_sent_flood":200,"n_sent_direct":600,` +
		`"n_flood_dups":4,"n_direct_dups":1,"total_air_time_secs":5400,"total_rx_air_time_secs":4200,` +
		`"total_up_time_secs":86400,"err_events":0}`
	return m
}

// Respond registers lines to broadcast whenever a command starting with the
// given verb is sent.
func (s *ScriptedMux) Respond(verb string, lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[verb] = lines
}

// SetSendError makes subsequent SendCommand calls fail.
func (s *ScriptedMux) SetSendError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// SentCommands returns every command sent through the mux.
func (s *ScriptedMux) SentCommands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *ScriptedMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe drops the subscriber without closing its channel: an async
// broadcast may still hold a reference, and sending on a closed channel
// would panic the scripted responder.
func (s *ScriptedMux) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

func (s *ScriptedMux) SendCommand(command string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("mux closed")
	}
	if s.sendErr != nil {
		err := s.sendErr
		s.mu.Unlock()
		return err
	}
	s.commands = append(s.commands, command)
	verb := strings.Fields(command)[0]
	lines := append([]string(nil), s.responses[verb]...)
	s.mu.Unlock()

	for _, line := range lines {
		go s.broadcast(line)
	}
	return nil
}

// Inject broadcasts an unsolicited frame line to all subscribers, as if the
// radio had emitted it on its own.
func (s *ScriptedMux) Inject(line string) {
	s.broadcast(line)
}

// broadcast delivers a line to every subscriber, waiting briefly for each so
// a subscriber mid-dispatch does not miss its response.
func (s *ScriptedMux) broadcast(line string) {
	s.mu.Lock()
	targets := make([]chan string, 0, len(s.subscribers))
	for _, ch := range s.subscribers {
		targets = append(targets, ch)
	}
	s.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- line:
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *ScriptedMux) Monitor(ctx context.Context) error {
	if s.TelemetryInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.TelemetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.broadcast(s.TelemetryLine)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *ScriptedMux) Initialize() error { return nil }

func (s *ScriptedMux) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id := range s.subscribers {
		delete(s.subscribers, id)
	}
	return nil
}
