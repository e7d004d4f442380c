// Package heatmap turns persisted measurements into a coverage overlay:
// (lat, lon, intensity) triples with intensity normalized to [0,1], plus an
// HTML export for offline review.
package heatmap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/meshfield/meshmap/internal/geo"
	"github.com/meshfield/meshmap/internal/httputil"
	"github.com/meshfield/meshmap/internal/units"
)

// Record is one measurement as served by the REST surface. RSSI and SNR
// are only present on records written by protocol version 1 peers.
type Record struct {
	Latitude      float64
	Longitude     float64
	SNRToTarget   float64
	SNRFromTarget float64
	RSSI          *float64
	SNR           *float64
	TraceSuccess  bool
	Timestamp     time.Time
}

// Point is one overlay triple.
type Point struct {
	Latitude  float64
	Longitude float64
	Intensity float64
}

// Viewport is the map window fitted around the data.
type Viewport struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// viewportPadding is the fixed margin added around the data bounds so edge
// points are not drawn on the window border.
const viewportPadding = 0.001

// Map holds the overlay state: loaded records, rendered points, and the
// current viewport.
type Map struct {
	client  httputil.HTTPClient
	baseURL string

	mu       sync.Mutex
	data     []Record
	points   []Point
	viewport *Viewport
}

// New creates a heatmap backed by the REST surface at baseURL. A nil client
// defaults to the standard one.
func New(baseURL string, client httputil.HTTPClient) *Map {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &Map{client: client, baseURL: baseURL}
}

// measurementProperties mirrors the REST surface's GeoJSON properties.
type measurementProperties struct {
	SNRToTarget   float64  `json:"snr_to_target"`
	SNRFromTarget float64  `json:"snr_from_target"`
	RSSI          *float64 `json:"rssi,omitempty"`
	SNR           *float64 `json:"snr,omitempty"`
	TraceSuccess  bool     `json:"trace_success"`
	Timestamp     string   `json:"timestamp"`
}

// LoadData fetches the target's measurements, most recent first, and caches
// them for rendering.
func (m *Map) LoadData(ctx context.Context, targetNodeID int64) ([]Record, error) {
	url := fmt.Sprintf("%s/api/measurements?target_node=%d", m.baseURL, targetNodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build measurements request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch measurements: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("measurements request returned %d: %s", resp.StatusCode, body)
	}

	var fc geo.FeatureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("failed to decode measurements: %w", err)
	}

	records := make([]Record, 0, len(fc.Features))
	for _, feature := range fc.Features {
		if feature.Geometry == nil {
			continue
		}
		lon, lat, err := feature.Geometry.LonLat()
		if err != nil {
			continue
		}
		var props measurementProperties
		if err := feature.DecodeProperties(&props); err != nil {
			continue
		}
		record := Record{
			Latitude:      lat,
			Longitude:     lon,
			SNRToTarget:   props.SNRToTarget,
			SNRFromTarget: props.SNRFromTarget,
			RSSI:          props.RSSI,
			SNR:           props.SNR,
			TraceSuccess:  props.TraceSuccess,
		}
		if ts, err := time.Parse(time.RFC3339, props.Timestamp); err == nil {
			record.Timestamp = ts
		}
		records = append(records, record)
	}

	m.mu.Lock()
	m.data = records
	m.mu.Unlock()
	return records, nil
}

// Intensity maps a record's signal reading to [0,1]. The convention is
// chosen per record: legacy records carry an rssi field and use the RSSI
// clamp range, current records use the directional SNR reading.
func Intensity(r Record) float64 {
	if r.RSSI != nil {
		return units.Normalize(*r.RSSI, units.MetricRSSI)
	}
	if r.SNR != nil {
		return units.Normalize(*r.SNR, units.MetricSNR)
	}
	return units.Normalize(r.SNRToTarget, units.MetricSNR)
}

// Render replaces the overlay with points for the given records. With
// fitBounds the viewport is refitted around the data; without it the
// previous viewport is kept, which is what automatic refreshes want.
// Rendering the same data twice produces the same overlay.
func (m *Map) Render(data []Record, fitBounds bool) []Point {
	points := make([]Point, 0, len(data))
	for _, r := range data {
		points = append(points, Point{
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			Intensity: Intensity(r),
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = points
	if fitBounds && len(points) > 0 {
		m.viewport = fitViewport(points)
	}
	return points
}

func fitViewport(points []Point) *Viewport {
	v := &Viewport{
		MinLat: points[0].Latitude, MaxLat: points[0].Latitude,
		MinLon: points[0].Longitude, MaxLon: points[0].Longitude,
	}
	for _, p := range points[1:] {
		if p.Latitude < v.MinLat {
			v.MinLat = p.Latitude
		}
		if p.Latitude > v.MaxLat {
			v.MaxLat = p.Latitude
		}
		if p.Longitude < v.MinLon {
			v.MinLon = p.Longitude
		}
		if p.Longitude > v.MaxLon {
			v.MaxLon = p.Longitude
		}
	}
	v.MinLat -= viewportPadding
	v.MaxLat += viewportPadding
	v.MinLon -= viewportPadding
	v.MaxLon += viewportPadding
	return v
}

// Points returns the current overlay.
func (m *Map) Points() []Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Point(nil), m.points...)
}

// Viewport returns the current viewport, or nil before the first fitted
// render.
func (m *Map) Viewport() *Viewport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.viewport == nil {
		return nil
	}
	v := *m.viewport
	return &v
}

// Clear drops the overlay, the cached data, and the viewport.
func (m *Map) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	m.points = nil
	m.viewport = nil
}
