package wire

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestUnmarshalDispatch(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want any
	}{
		{
			name: "gps_data",
			raw:  `{"type":"gps_data","latitude":51.5,"longitude":-0.12,"accuracy":8.5,"timestamp":1717243200000}`,
			want: &GPSData{},
		},
		{
			name: "request_measurement",
			raw:  `{"type":"request_measurement","request_id":"r1","session_id":"s1"}`,
			want: &RequestMeasurement{},
		},
		{
			name: "radio_status",
			raw:  `{"type":"radio_status","connected":false,"error":"no response"}`,
			want: &RadioStatus{},
		},
		{
			name: "measurement_saved",
			raw:  `{"type":"measurement_saved","request_id":"r1","measurement_id":"m1","snr_to_target":-3.5,"snr_from_target":-5.25,"trace_success":true,"latitude":51.5,"longitude":-0.12}`,
			want: &MeasurementSaved{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Unmarshal([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			switch tt.name {
			case "gps_data":
				g := msg.(*GPSData)
				if g.Latitude != 51.5 || g.Longitude != -0.12 {
					t.Errorf("decoded fix = %+v", g)
				}
				if g.Accuracy == nil || *g.Accuracy != 8.5 {
					t.Errorf("accuracy = %v", g.Accuracy)
				}
				if g.Altitude != nil {
					t.Errorf("altitude should be nil when omitted")
				}
			case "request_measurement":
				r := msg.(*RequestMeasurement)
				if r.RequestID != "r1" || r.SessionID != "s1" {
					t.Errorf("decoded request = %+v", r)
				}
			case "radio_status":
				s := msg.(*RadioStatus)
				if s.Connected || s.Error != "no response" {
					t.Errorf("decoded status = %+v", s)
				}
			case "measurement_saved":
				m := msg.(*MeasurementSaved)
				if m.SNRToTarget != -3.5 || !m.TraceSuccess {
					t.Errorf("decoded confirmation = %+v", m)
				}
			}
		})
	}
}

func TestUnmarshalUnknownType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"firmware_update","version":"2.0"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	if _, err := Unmarshal([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestConstructorsSetTypeTags(t *testing.T) {
	alt := 120.0
	tests := []struct {
		name string
		msg  any
		tag  string
	}{
		{"gps", NewGPSData(51.5, -0.12, &alt, nil, 1717243200000), TypeGPSData},
		{"request", NewRequestMeasurement("r1", "s1"), TypeRequestMeasurement},
		{"status_request", NewRadioStatusRequest(), TypeRadioStatusRequest},
		{"connected", NewConnected("Connected to Pi"), TypeConnected},
		{"radio_status", NewRadioStatus(true, ""), TypeRadioStatus},
		{"signal", NewSignalData(-3.5, -5.0, 1717243200000), TypeSignalData},
		{"error", NewError("", "boom"), TypeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			tag, err := MessageType(data)
			if err != nil {
				t.Fatalf("MessageType: %v", err)
			}
			if tag != tt.tag {
				t.Errorf("tag = %q, want %q", tag, tt.tag)
			}
		})
	}
}

func TestConnectedCarriesProtocolVersion(t *testing.T) {
	msg := NewConnected("Connected to Pi")
	if msg.ProtocolVersion != ProtocolVersion {
		t.Fatalf("version = %d, want %d", msg.ProtocolVersion, ProtocolVersion)
	}
}
