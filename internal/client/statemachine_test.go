package client

import (
	"errors"
	"testing"
)

func TestWorkflowHappyPath(t *testing.T) {
	w := NewWorkflow(false)
	if w.State() != SelectingTarget {
		t.Fatalf("initial state = %v", w.State())
	}

	steps := []struct {
		event SessionEvent
		want  SessionState
	}{
		{EvTargetSelected, AwaitingLocationPermission},
		{EvPermissionGranted, AwaitingRadioConnection},
		{EvRadioUp, ConnectedIdle},
		{EvStartCollecting, ConnectedCollecting},
		{EvStopCollecting, ConnectedIdle},
	}
	for _, step := range steps {
		got, err := w.Apply(step.event)
		if err != nil {
			t.Fatalf("Apply(%v) error: %v", step.event, err)
		}
		if got != step.want {
			t.Fatalf("Apply(%v) = %v, want %v", step.event, got, step.want)
		}
	}
}

func TestWorkflowPreselectedTargetSkipsSelection(t *testing.T) {
	w := NewWorkflow(true)
	if w.State() != AwaitingLocationPermission {
		t.Errorf("preselected initial state = %v, want AwaitingLocationPermission", w.State())
	}
}

func TestPermissionDeniedStays(t *testing.T) {
	w := NewWorkflow(true)

	got, err := w.Apply(EvPermissionDenied)
	if err != nil {
		t.Fatalf("Apply(EvPermissionDenied) error: %v", err)
	}
	if got != AwaitingLocationPermission {
		t.Errorf("state after denial = %v, want AwaitingLocationPermission", got)
	}

	// A later grant still works.
	got, err = w.Apply(EvPermissionGranted)
	if err != nil || got != AwaitingRadioConnection {
		t.Errorf("Apply(EvPermissionGranted) = %v, %v", got, err)
	}
}

func TestRadioDownWhileConnected(t *testing.T) {
	w := NewWorkflow(true)
	w.Apply(EvPermissionGranted)
	w.Apply(EvRadioUp)
	w.Apply(EvStartCollecting)

	got, err := w.Apply(EvRadioDown)
	if err != nil {
		t.Fatalf("Apply(EvRadioDown) error: %v", err)
	}
	if got != AwaitingRadioConnection {
		t.Errorf("state after radio loss = %v, want AwaitingRadioConnection", got)
	}
	if w.CanCollect() {
		t.Error("CanCollect() = true with radio down")
	}
}

func TestChannelOpenIsNotConnected(t *testing.T) {
	// The socket being up while the radio is unreachable must not count
	// as connected.
	w := NewWorkflow(true)
	w.Apply(EvPermissionGranted)

	if w.State().IsConnected() {
		t.Error("IsConnected() = true before radio_up")
	}
	if _, err := w.Apply(EvStartCollecting); err == nil {
		t.Error("collecting before radio_up should be rejected")
	}
	if w.State() != AwaitingRadioConnection {
		t.Errorf("rejected event changed state to %v", w.State())
	}
}

func TestInvalidTransitionKeepsState(t *testing.T) {
	w := NewWorkflow(false)

	_, err := w.Apply(EvStartCollecting)
	var invalid *ErrInvalidTransition
	if !errors.As(err, &invalid) {
		t.Fatalf("Apply(EvStartCollecting) error = %v, want ErrInvalidTransition", err)
	}
	if invalid.State != SelectingTarget || invalid.Event != EvStartCollecting {
		t.Errorf("error detail = %+v", invalid)
	}
	if w.State() != SelectingTarget {
		t.Errorf("state changed on invalid transition: %v", w.State())
	}
}

func TestSessionEndedReturnsToIdle(t *testing.T) {
	w := NewWorkflow(true)
	w.Apply(EvPermissionGranted)
	w.Apply(EvRadioUp)
	w.Apply(EvStartCollecting)

	got, err := w.Apply(EvSessionEnded)
	if err != nil {
		t.Fatalf("Apply(EvSessionEnded) error: %v", err)
	}
	if got != ConnectedIdle {
		t.Errorf("state after session end = %v, want ConnectedIdle", got)
	}
}

func TestTransitionIsPure(t *testing.T) {
	state := ConnectedIdle
	next, err := Transition(state, EvStartCollecting)
	if err != nil {
		t.Fatalf("Transition() error: %v", err)
	}
	if next != ConnectedCollecting {
		t.Errorf("next = %v", next)
	}
	if state != ConnectedIdle {
		t.Error("Transition mutated its input")
	}
}
