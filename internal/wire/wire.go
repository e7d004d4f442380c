// Package wire defines the JSON message protocol spoken between the field
// client and the Pi daemon over the WebSocket channel. Every message is a JSON
// object with a "type" discriminator; unknown types are ignored by both ends
// so the protocol can grow without breaking deployed clients.
package wire

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the current wire protocol version. Version 1 carried a
// single rssi/snr pair per measurement; version 2 carries the directional
// snr_to_target/snr_from_target pair. Read paths accept both.
const ProtocolVersion = 2

// Message type tags, client to Pi.
const (
	TypeGPSData            = "gps_data"
	TypeRequestMeasurement = "request_measurement"
	TypeRadioStatusRequest = "radio_status_request"
)

// Message type tags, Pi to client.
const (
	TypeConnected        = "connected"
	TypeRadioStatus      = "radio_status"
	TypeSignalData       = "signal_data"
	TypeMeasurementSaved = "measurement_saved"
	TypeError            = "error"
)

// ErrUnknownType is wrapped by Unmarshal for unrecognized message tags.
// Callers log and drop these rather than failing the connection.
var ErrUnknownType = fmt.Errorf("unknown message type")

// GPSData is a device GPS fix streamed from the client in watch mode.
// Timestamp is unix milliseconds from the geolocation callback.
type GPSData struct {
	Type      string   `json:"type"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// NewGPSData returns a GPSData message with the type tag set.
func NewGPSData(lat, lon float64, altitude, accuracy *float64, timestampMillis int64) GPSData {
	return GPSData{
		Type:      TypeGPSData,
		Latitude:  lat,
		Longitude: lon,
		Altitude:  altitude,
		Accuracy:  accuracy,
		Timestamp: timestampMillis,
	}
}

// RequestMeasurement asks the Pi to combine the latest streamed GPS fix with
// a freshly polled radio reading and persist the result. RequestID correlates
// the asynchronous MeasurementSaved (or Error) reply with this request.
type RequestMeasurement struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
}

// NewRequestMeasurement returns a RequestMeasurement with the type tag set.
func NewRequestMeasurement(requestID, sessionID string) RequestMeasurement {
	return RequestMeasurement{Type: TypeRequestMeasurement, RequestID: requestID, SessionID: sessionID}
}

// RadioStatusRequest asks the Pi to probe the radio device and reply with a
// RadioStatus.
type RadioStatusRequest struct {
	Type string `json:"type"`
}

// NewRadioStatusRequest returns a RadioStatusRequest with the type tag set.
func NewRadioStatusRequest() RadioStatusRequest {
	return RadioStatusRequest{Type: TypeRadioStatusRequest}
}

// Connected is the open acknowledgment sent once the Pi accepts a channel.
type Connected struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	ProtocolVersion int    `json:"protocol_version"`
}

// NewConnected returns a Connected ack carrying the current protocol version.
func NewConnected(message string) Connected {
	return Connected{Type: TypeConnected, Message: message, ProtocolVersion: ProtocolVersion}
}

// RadioStatus reports device-level readiness: the radio itself answering, not
// merely the channel being open.
type RadioStatus struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// NewRadioStatus returns a RadioStatus with the type tag set.
func NewRadioStatus(connected bool, errMessage string) RadioStatus {
	return RadioStatus{Type: TypeRadioStatus, Connected: connected, Error: errMessage}
}

// SignalData is a live signal push for real-time display. Not persisted.
type SignalData struct {
	Type          string  `json:"type"`
	SNRToTarget   float64 `json:"snr_to_target"`
	SNRFromTarget float64 `json:"snr_from_target"`
	Timestamp     int64   `json:"timestamp"`
}

// NewSignalData returns a SignalData with the type tag set.
func NewSignalData(snrTo, snrFrom float64, timestampMillis int64) SignalData {
	return SignalData{Type: TypeSignalData, SNRToTarget: snrTo, SNRFromTarget: snrFrom, Timestamp: timestampMillis}
}

// MeasurementSaved confirms a persisted measurement. RSSI/SNR are only set by
// protocol version 1 peers; current peers populate the directional pair.
type MeasurementSaved struct {
	Type          string   `json:"type"`
	RequestID     string   `json:"request_id"`
	MeasurementID string   `json:"measurement_id"`
	SNRToTarget   float64  `json:"snr_to_target"`
	SNRFromTarget float64  `json:"snr_from_target"`
	RSSI          *float64 `json:"rssi,omitempty"`
	SNR           *float64 `json:"snr,omitempty"`
	TraceSuccess  bool     `json:"trace_success"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
}

// Error reports a per-action failure. RequestID is set when the failure can
// be correlated with a specific measurement request.
type Error struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message"`
}

// NewError returns an Error with the type tag set.
func NewError(requestID, message string) Error {
	return Error{Type: TypeError, RequestID: requestID, Message: message}
}

// envelope is used to peek at the discriminator before full decoding.
type envelope struct {
	Type string `json:"type"`
}

// MessageType returns the type tag of a raw message without decoding the body.
func MessageType(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("malformed message: %w", err)
	}
	return env.Type, nil
}

// Unmarshal decodes a raw message into its typed struct. Unrecognized type
// tags return an error wrapping ErrUnknownType; callers log and continue.
func Unmarshal(data []byte) (any, error) {
	tag, err := MessageType(data)
	if err != nil {
		return nil, err
	}

	var msg any
	switch tag {
	case TypeGPSData:
		msg = &GPSData{}
	case TypeRequestMeasurement:
		msg = &RequestMeasurement{}
	case TypeRadioStatusRequest:
		msg = &RadioStatusRequest{}
	case TypeConnected:
		msg = &Connected{}
	case TypeRadioStatus:
		msg = &RadioStatus{}
	case TypeSignalData:
		msg = &SignalData{}
	case TypeMeasurementSaved:
		msg = &MeasurementSaved{}
	case TypeError:
		msg = &Error{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to decode %s message: %w", tag, err)
	}
	return msg, nil
}
