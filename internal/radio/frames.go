package radio

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	FrameTypeTrace     = "trace"
	FrameTypeTelemetry = "telemetry"
	FrameTypeAdvert    = "advert"
	FrameTypePong      = "pong"
	FrameTypeUnknown   = "unknown"
)

// ClassifyFrame inspects a frame line and returns a simple frame type token.
// The classification is intentionally conservative: it sniffs for keys that
// only one frame kind carries before committing to a full decode.
func ClassifyFrame(line string) string {
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		return FrameTypeUnknown
	}
	if strings.Contains(line, `"path"`) {
		return FrameTypeTrace
	}
	if strings.Contains(line, `"batt_milli_volts"`) || strings.Contains(line, `"noise_floor"`) {
		return FrameTypeTelemetry
	}
	if strings.Contains(line, `"neighbour"`) || strings.Contains(line, `"advert_timestamp"`) {
		return FrameTypeAdvert
	}
	if strings.Contains(line, `"pong"`) {
		return FrameTypePong
	}
	return FrameTypeUnknown
}

// TraceHop is one hop of a trace path: the node's short hash and the SNR the
// trace packet was received with at that hop.
type TraceHop struct {
	Hash string  `json:"hash"`
	SNR  float64 `json:"snr"`
}

// TraceFrame is the radio's response to a TRACE command. For a direct
// repeater trace the path has two hops: the target repeater first, our own
// device second.
type TraceFrame struct {
	Path []TraceHop `json:"path"`
}

// SNRPair is the directional signal reading extracted from a trace: the SNR
// of our signal arriving at the target, and of the target's reply arriving
// back at our device.
type SNRPair struct {
	SNRToTarget   float64
	SNRFromTarget float64
}

// ParseTrace decodes a trace frame line.
func ParseTrace(line string) (TraceFrame, error) {
	var frame TraceFrame
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		return TraceFrame{}, fmt.Errorf("failed to decode trace frame: %w", err)
	}
	return frame, nil
}

// SNRs returns the directional pair from a trace path. A path with fewer
// than two hops means the trace never reached the target and back.
func (f TraceFrame) SNRs() (SNRPair, error) {
	if len(f.Path) < 2 {
		return SNRPair{}, fmt.Errorf("insufficient path data in trace response: %d hops", len(f.Path))
	}
	return SNRPair{
		SNRToTarget:   f.Path[0].SNR,
		SNRFromTarget: f.Path[1].SNR,
	}, nil
}

// TelemetryFrame is a periodic repeater stats report. Field names follow the
// radio firmware's JSON output.
type TelemetryFrame struct {
	Origin             string `json:"origin"`
	BattMilliVolts     uint   `json:"batt_milli_volts"`
	CurrTxQueueLen     uint   `json:"curr_tx_queue_len"`
	NoiseFloor         int    `json:"noise_floor"`
	LastRSSI           int    `json:"last_rssi"`
	LastSNR            int    `json:"last_snr"`
	NPacketsRecv       uint64 `json:"n_packets_recv"`
	NPacketsSent       uint64 `json:"n_packets_sent"`
	NRecvFlood         uint64 `json:"n_recv_flood"`
	NRecvDirect        uint64 `json:"n_recv_direct"`
	NSentFlood         uint64 `json:"n_sent_flood"`
	NSentDirect        uint64 `json:"n_sent_direct"`
	NFloodDups         uint   `json:"n_flood_dups"`
	NDirectDups        uint   `json:"n_direct_dups"`
	TotalAirTimeSecs   uint64 `json:"total_air_time_secs"`
	TotalRxAirTimeSecs uint64 `json:"total_rx_air_time_secs"`
	TotalUpTimeSecs    uint64 `json:"total_up_time_secs"`
	ErrEvents          uint   `json:"err_events"`
}

// ParseTelemetry decodes a telemetry frame line.
func ParseTelemetry(line string) (TelemetryFrame, error) {
	var frame TelemetryFrame
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		return TelemetryFrame{}, fmt.Errorf("failed to decode telemetry frame: %w", err)
	}
	if frame.Origin == "" {
		return TelemetryFrame{}, fmt.Errorf("telemetry frame missing origin hash")
	}
	return frame, nil
}

// AdvertFrame reports a neighbour heard by a repeater. The firmware reports
// SNR multiplied by 4; Advert.SNR carries the raw value.
type AdvertFrame struct {
	Origin          string `json:"origin"`
	Neighbour       string `json:"neighbour"`
	AdvertTimestamp uint64 `json:"advert_timestamp"`
	HeardTimestamp  uint64 `json:"heard_timestamp"`
	SNR             int    `json:"snr"`
}

// ParseAdvert decodes a neighbour advert frame line.
func ParseAdvert(line string) (AdvertFrame, error) {
	var frame AdvertFrame
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		return AdvertFrame{}, fmt.Errorf("failed to decode advert frame: %w", err)
	}
	if frame.Origin == "" || frame.Neighbour == "" {
		return AdvertFrame{}, fmt.Errorf("advert frame missing node hashes")
	}
	return frame, nil
}
