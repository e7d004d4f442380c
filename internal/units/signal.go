// Package units provides shared constants and normalization for signal metrics.
package units

// Metric identifies which signal-strength convention a measurement uses.
// Older radios report a single RSSI/SNR pair; current firmware reports a
// directional SNR pair, which is normalized on the same SNR scale.
type Metric string

const (
	MetricRSSI Metric = "rssi"
	MetricSNR  Metric = "snr"
)

// Normalization ranges. Values outside the range are clamped before scaling,
// so any input maps into [0, 1].
const (
	RSSIMinDBm = -120.0
	RSSIMaxDBm = -30.0
	SNRMinDB   = -10.0
	SNRMaxDB   = 10.0
)

// ValidMetrics contains all valid metric values.
var ValidMetrics = []Metric{MetricRSSI, MetricSNR}

// IsValid checks if the given metric is in the list of valid metrics.
func IsValid(m Metric) bool {
	for _, valid := range ValidMetrics {
		if m == valid {
			return true
		}
	}
	return false
}

// Range returns the (min, max) normalization bounds for a metric.
// Unknown metrics fall back to the SNR range.
func Range(m Metric) (min, max float64) {
	switch m {
	case MetricRSSI:
		return RSSIMinDBm, RSSIMaxDBm
	case MetricSNR:
		return SNRMinDB, SNRMaxDB
	default:
		return SNRMinDB, SNRMaxDB
	}
}

// Clamp limits v to the closed interval [min, max].
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Normalize maps a raw signal reading to an intensity in [0, 1] using the
// metric's range. Readings are clamped at both ends before scaling.
func Normalize(value float64, m Metric) float64 {
	min, max := Range(m)
	v := Clamp(value, min, max)
	return (v - min) / (max - min)
}
