package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/meshfield/meshmap/internal/client"
	"github.com/meshfield/meshmap/internal/wire"
)

// gpsFlags are the GPS source options shared by collect and survey.
type gpsFlags struct {
	nmea     *string
	lat      *float64
	lon      *float64
	interval *time.Duration
}

func addGPSFlags(fs *flag.FlagSet) gpsFlags {
	return gpsFlags{
		nmea:     fs.String("nmea", "", "Replay GPS fixes from a recorded NMEA log"),
		lat:      fs.Float64("lat", 0, "Fixed latitude in decimal degrees"),
		lon:      fs.Float64("lon", 0, "Fixed longitude in decimal degrees"),
		interval: fs.Duration("gps-interval", time.Second, "Cadence of GPS fix reports"),
	}
}

func (g gpsFlags) source() (client.GPSSource, error) {
	if *g.nmea != "" {
		return &client.NMEASource{Path: *g.nmea, Interval: *g.interval}, nil
	}
	if *g.lat != 0 || *g.lon != 0 {
		return &client.FixedSource{
			Fix:      client.Fix{Latitude: *g.lat, Longitude: *g.lon},
			Interval: *g.interval,
		}, nil
	}
	return nil, fmt.Errorf("a GPS source is required: pass --nmea or --lat/--lon")
}

// rig bundles the channel, collector, status line, and session workflow for
// a survey run.
type rig struct {
	channel   *client.Channel
	collector *client.Collector
	status    *client.StatusArea

	mu       sync.Mutex
	workflow *client.Workflow
	radioUp  chan struct{} // closed on the first successful radio status
	once     sync.Once
}

// newRig wires the channel callbacks into the collector's correlation table
// and the session state machine. The target is preselected, so the workflow
// starts at the location permission gate; opening the GPS source stands in
// for the permission grant.
func newRig(wsURL string, src client.GPSSource, reconnectDelay time.Duration, onResult func(wire.MeasurementSaved)) *rig {
	r := &rig{
		status:   client.NewStatusArea(nil),
		workflow: client.NewWorkflow(true),
		radioUp:  make(chan struct{}),
	}
	events := client.Events{
		Connected: func(msg wire.Connected) {
			fmt.Printf("Channel open (protocol version %d)\n", msg.ProtocolVersion)
		},
		RadioStatus: func(msg wire.RadioStatus) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if msg.Connected {
				r.workflow.Apply(client.EvRadioUp)
				r.once.Do(func() { close(r.radioUp) })
			} else {
				r.workflow.Apply(client.EvRadioDown)
				fmt.Printf("Radio unavailable: %s\n", msg.Error)
			}
			r.status.SetPersistent(r.workflow.State().String())
		},
		SignalData: func(msg wire.SignalData) {
			r.status.Flash(fmt.Sprintf("to target %.1f dB, from target %.1f dB",
				msg.SNRToTarget, msg.SNRFromTarget))
			fmt.Printf("Signal: to target %.1f dB, from target %.1f dB\n",
				msg.SNRToTarget, msg.SNRFromTarget)
		},
		MeasurementSaved: func(msg wire.MeasurementSaved) {
			r.collector.HandleSaved(msg)
		},
		ErrorMsg: func(msg wire.Error) {
			r.collector.HandleError(msg)
			if msg.RequestID == "" {
				r.status.Flash(msg.Message)
				fmt.Fprintf(os.Stderr, "Channel error: %s\n", msg.Message)
			}
		},
		StateChange: func(state client.ConnState) {
			if state == client.StateDisconnected {
				r.collector.HandleDisconnect()
				r.mu.Lock()
				r.workflow.Apply(client.EvRadioDown)
				r.status.SetPersistent(r.workflow.State().String())
				r.mu.Unlock()
			}
		},
	}
	r.channel = client.NewChannel(wsURL, src, nil, reconnectDelay, events)
	r.collector = client.NewCollector(r.channel, nil, 0, onResult)
	return r
}

// start opens the channel, marks the permission granted, and waits for the
// radio to report ready.
func (r *rig) start(ctx context.Context) error {
	r.mu.Lock()
	r.workflow.Apply(client.EvPermissionGranted)
	r.mu.Unlock()

	if err := r.channel.Connect(ctx); err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	select {
	case <-r.radioUp:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for the radio: %w", ctx.Err())
	}
}

func (r *rig) stop() {
	r.collector.Stop()
	r.channel.Disconnect()
}

func handleCollect(args []string) error {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Base URL of the meshmapd daemon")
	sessionID := fs.String("session", "", "Session ID to record against")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall deadline for the measurement")
	gps := addGPSFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return fmt.Errorf("--session is required")
	}
	src, err := gps.source()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rest := newRESTClient(*server)
	policy, err := rest.fetchConfig()
	if err != nil {
		return fmt.Errorf("failed to fetch server config: %w", err)
	}

	r := newRig(rest.wsURL(), src, policy.reconnectDelay(), nil)
	if err := r.start(ctx); err != nil {
		return err
	}
	defer r.stop()

	saved, err := collectWithRetry(ctx, r, *sessionID)
	if err != nil {
		return err
	}
	fmt.Printf("Saved measurement %s at %.5f,%.5f (to %.1f dB, from %.1f dB)\n",
		saved.MeasurementID, saved.Latitude, saved.Longitude,
		saved.SNRToTarget, saved.SNRFromTarget)
	return nil
}

// collectWithRetry retries while the daemon has not yet received a GPS fix.
// The first fix can land moments after the channel opens, so a couple of
// short retries cover the race without waiting out the full timeout.
func collectWithRetry(ctx context.Context, r *rig, sessionID string) (wire.MeasurementSaved, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		saved, err := r.collector.CollectOnce(ctx, sessionID)
		if err == nil {
			return saved, nil
		}
		lastErr = err
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return wire.MeasurementSaved{}, lastErr
		}
	}
	return wire.MeasurementSaved{}, lastErr
}

func handleSurvey(args []string) error {
	fs := flag.NewFlagSet("survey", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Base URL of the meshmapd daemon")
	sessionID := fs.String("session", "", "Session ID to record against")
	interval := fs.Duration("interval", 0, "Pause between measurements (default from the server config)")
	endOnExit := fs.Bool("end-on-exit", false, "End the session on the server when interrupted")
	gps := addGPSFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return fmt.Errorf("--session is required")
	}
	src, err := gps.source()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rest := newRESTClient(*server)
	policy, err := rest.fetchConfig()
	if err != nil {
		return fmt.Errorf("failed to fetch server config: %w", err)
	}
	if *interval <= 0 {
		*interval = policy.collectInterval()
	}
	if *interval <= 0 {
		*interval = 15 * time.Second
	}

	r := newRig(rest.wsURL(), src, policy.reconnectDelay(), func(saved wire.MeasurementSaved) {
		fmt.Printf("Saved measurement %s at %.5f,%.5f (to %.1f dB, from %.1f dB)\n",
			saved.MeasurementID, saved.Latitude, saved.Longitude,
			saved.SNRToTarget, saved.SNRFromTarget)
	})

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = r.start(startCtx)
	cancel()
	if err != nil {
		return err
	}
	defer r.stop()

	r.mu.Lock()
	_, err = r.workflow.Apply(client.EvStartCollecting)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	fmt.Printf("Surveying session %s every %s; Ctrl-C to stop\n", *sessionID, *interval)
	r.collector.StartContinuous(ctx, *sessionID, *interval)

	<-ctx.Done()
	r.stop()

	fmt.Printf("Survey stopped (%s): %d collected, %d skipped\n",
		r.status.Current(), r.collector.Collected(), r.collector.Skipped())

	if *endOnExit {
		session, err := rest.endSession(*sessionID)
		if err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
		fmt.Printf("Ended session %s\n", session.ID)
	}
	return nil
}
