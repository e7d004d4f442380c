package client

import (
	"fmt"
)

// SessionState is the survey workflow's state. The happy path runs
// SelectingTarget, AwaitingLocationPermission, AwaitingRadioConnection,
// ConnectedIdle, with ConnectedCollecting layered on top while continuous
// collection runs.
type SessionState int

const (
	SelectingTarget SessionState = iota
	AwaitingLocationPermission
	AwaitingRadioConnection
	ConnectedIdle
	ConnectedCollecting
)

func (s SessionState) String() string {
	switch s {
	case SelectingTarget:
		return "selecting_target"
	case AwaitingLocationPermission:
		return "awaiting_location_permission"
	case AwaitingRadioConnection:
		return "awaiting_radio_connection"
	case ConnectedIdle:
		return "connected_idle"
	case ConnectedCollecting:
		return "connected_collecting"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// IsConnected reports whether the device-level radio link is confirmed.
// Channel-open alone never counts: the socket can be up while the radio is
// unplugged.
func (s SessionState) IsConnected() bool {
	return s == ConnectedIdle || s == ConnectedCollecting
}

// SessionEvent is an input to the workflow.
type SessionEvent int

const (
	// EvTargetSelected fires when the surveyor picks a target node.
	EvTargetSelected SessionEvent = iota
	// EvPermissionGranted fires when the device grants location access.
	EvPermissionGranted
	// EvPermissionDenied fires when the device refuses location access.
	// The workflow stays put; retrying is the surveyor's call.
	EvPermissionDenied
	// EvRadioUp fires on a radio_status with connected true.
	EvRadioUp
	// EvRadioDown fires on a radio_status with connected false, or when
	// the channel transport drops.
	EvRadioDown
	// EvStartCollecting fires when continuous collection begins.
	EvStartCollecting
	// EvStopCollecting fires when continuous collection halts.
	EvStopCollecting
	// EvSessionEnded fires when the mapping session is closed.
	EvSessionEnded
)

func (e SessionEvent) String() string {
	switch e {
	case EvTargetSelected:
		return "target_selected"
	case EvPermissionGranted:
		return "permission_granted"
	case EvPermissionDenied:
		return "permission_denied"
	case EvRadioUp:
		return "radio_up"
	case EvRadioDown:
		return "radio_down"
	case EvStartCollecting:
		return "start_collecting"
	case EvStopCollecting:
		return "stop_collecting"
	case EvSessionEnded:
		return "session_ended"
	default:
		return fmt.Sprintf("SessionEvent(%d)", int(e))
	}
}

// ErrInvalidTransition is the rejection a caller shows the surveyor when an
// action is not valid in the current state.
type ErrInvalidTransition struct {
	State SessionState
	Event SessionEvent
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Event, e.State)
}

// Transition is the pure step function: given a state and an event it
// returns the next state. The current state is never mutated; invalid
// pairings return the unchanged state and an error.
func Transition(state SessionState, event SessionEvent) (SessionState, error) {
	switch state {
	case SelectingTarget:
		if event == EvTargetSelected {
			return AwaitingLocationPermission, nil
		}

	case AwaitingLocationPermission:
		switch event {
		case EvPermissionGranted:
			return AwaitingRadioConnection, nil
		case EvPermissionDenied:
			// Stay: the surveyor retries explicitly.
			return AwaitingLocationPermission, nil
		}

	case AwaitingRadioConnection:
		switch event {
		case EvRadioUp:
			return ConnectedIdle, nil
		case EvRadioDown:
			return AwaitingRadioConnection, nil
		}

	case ConnectedIdle:
		switch event {
		case EvStartCollecting:
			return ConnectedCollecting, nil
		case EvRadioDown:
			return AwaitingRadioConnection, nil
		case EvRadioUp:
			return ConnectedIdle, nil
		case EvSessionEnded:
			return ConnectedIdle, nil
		}

	case ConnectedCollecting:
		switch event {
		case EvStopCollecting:
			return ConnectedIdle, nil
		case EvRadioDown:
			return AwaitingRadioConnection, nil
		case EvRadioUp:
			return ConnectedCollecting, nil
		case EvSessionEnded:
			return ConnectedIdle, nil
		}
	}

	return state, &ErrInvalidTransition{State: state, Event: event}
}

// Workflow owns a SessionState and applies events to it. It is not safe
// for concurrent use; drive it from a single goroutine.
type Workflow struct {
	state SessionState
}

// NewWorkflow starts a workflow. When the target is preselected (launch
// parameter), selection is skipped.
func NewWorkflow(targetPreselected bool) *Workflow {
	if targetPreselected {
		return &Workflow{state: AwaitingLocationPermission}
	}
	return &Workflow{state: SelectingTarget}
}

// State returns the current state.
func (w *Workflow) State() SessionState { return w.state }

// Apply advances the workflow. On an invalid transition the state is
// unchanged and the error is returned for display.
func (w *Workflow) Apply(event SessionEvent) (SessionState, error) {
	next, err := Transition(w.state, event)
	if err != nil {
		return w.state, err
	}
	w.state = next
	return next, nil
}

// CanCollect reports whether collection actions are allowed right now.
func (w *Workflow) CanCollect() bool { return w.state.IsConnected() }
