// Package geo provides the minimal GeoJSON types used by the REST surface
// and the heatmap client. Coordinates follow the GeoJSON convention of
// [longitude, latitude].
package geo

import (
	"encoding/json"
	"fmt"
)

// PointGeometry is a GeoJSON Point.
type PointGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// NewPoint builds a Point geometry from a lon/lat pair.
func NewPoint(lon, lat float64) PointGeometry {
	return PointGeometry{Type: "Point", Coordinates: []float64{lon, lat}}
}

// LonLat returns the coordinate pair, or an error if the geometry is not a
// well-formed point.
func (g PointGeometry) LonLat() (lon, lat float64, err error) {
	if g.Type != "Point" || len(g.Coordinates) < 2 {
		return 0, 0, fmt.Errorf("not a point geometry: type=%q coords=%d", g.Type, len(g.Coordinates))
	}
	return g.Coordinates[0], g.Coordinates[1], nil
}

// Feature is a GeoJSON Feature with free-form properties.
type Feature struct {
	Type       string          `json:"type"`
	ID         any             `json:"id,omitempty"`
	Geometry   *PointGeometry  `json:"geometry"`
	Properties json.RawMessage `json:"properties"`
}

// NewFeature builds a Feature from an id, location and properties value.
// A nil geometry is emitted as JSON null, matching nodes without a fix.
func NewFeature(id any, geometry *PointGeometry, properties any) (Feature, error) {
	props, err := json.Marshal(properties)
	if err != nil {
		return Feature{}, fmt.Errorf("failed to encode feature properties: %w", err)
	}
	return Feature{Type: "Feature", ID: id, Geometry: geometry, Properties: props}, nil
}

// DecodeProperties unmarshals the feature's properties into out.
func (f Feature) DecodeProperties(out any) error {
	if len(f.Properties) == 0 {
		return fmt.Errorf("feature has no properties")
	}
	return json.Unmarshal(f.Properties, out)
}

// FeatureCollection is a GeoJSON FeatureCollection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection wraps features in a collection. A nil slice is
// normalized to an empty one so the JSON is always an array.
func NewFeatureCollection(features []Feature) FeatureCollection {
	if features == nil {
		features = []Feature{}
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}
