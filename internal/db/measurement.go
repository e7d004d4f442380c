package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Measurement is one georeferenced link-quality sample. SNRToTarget and
// SNRFromTarget are the directional readings from a trace; RSSI and SNR
// are legacy single-value fields retained for old records. A failed trace
// stores zero for both directions with TraceSuccess false.
type Measurement struct {
	ID            string
	SessionID     string
	TargetNode    int64
	Latitude      float64
	Longitude     float64
	Altitude      *float64
	GPSAccuracy   *float64
	SNRToTarget   float64
	SNRFromTarget float64
	RSSI          *float64
	SNR           *float64
	TraceSuccess  bool
	Timestamp     time.Time
}

// RecordMeasurement persists a sample and returns it with a fresh id.
// The session must exist and be open.
func (db *DB) RecordMeasurement(m Measurement) (Measurement, error) {
	session, err := db.GetSession(m.SessionID)
	if err != nil {
		return Measurement{}, err
	}
	if !session.IsActive() {
		return Measurement{}, fmt.Errorf("session %s is already ended", m.SessionID)
	}

	m.ID = uuid.NewString()
	m.TargetNode = session.TargetNode
	if m.Timestamp.IsZero() {
		m.Timestamp = db.clock.Now().UTC()
	}

	_, err = db.Exec(`
		INSERT INTO measurements (id, session_id, target_node, latitude, longitude, altitude,
			gps_accuracy, snr_to_target, snr_from_target, rssi, snr, trace_success, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.TargetNode, m.Latitude, m.Longitude, m.Altitude,
		m.GPSAccuracy, m.SNRToTarget, m.SNRFromTarget, m.RSSI, m.SNR, m.TraceSuccess, m.Timestamp)
	if err != nil {
		return Measurement{}, fmt.Errorf("failed to record measurement: %w", err)
	}
	return m, nil
}

// MeasurementFilter narrows ListMeasurements. Zero values mean no filter.
type MeasurementFilter struct {
	SessionID  string
	TargetNode int64
	Since      time.Time
	Limit      int
	Ascending  bool
}

// ListMeasurements returns samples newest-first unless Ascending is set.
func (db *DB) ListMeasurements(f MeasurementFilter) ([]Measurement, error) {
	query := `SELECT id, session_id, target_node, latitude, longitude, altitude, gps_accuracy,
		snr_to_target, snr_from_target, rssi, snr, trace_success, timestamp
		FROM measurements WHERE 1=1`
	var args []any
	if f.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if f.TargetNode > 0 {
		query += ` AND target_node = ?`
		args = append(args, f.TargetNode)
	}
	if !f.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.Since.UTC())
	}
	if f.Ascending {
		query += ` ORDER BY timestamp ASC`
	} else {
		query += ` ORDER BY timestamp DESC`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list measurements: %w", err)
	}
	defer rows.Close()

	var out []Measurement
	for rows.Next() {
		var m Measurement
		if err := rows.Scan(&m.ID, &m.SessionID, &m.TargetNode, &m.Latitude, &m.Longitude,
			&m.Altitude, &m.GPSAccuracy, &m.SNRToTarget, &m.SNRFromTarget, &m.RSSI, &m.SNR,
			&m.TraceSuccess, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMeasurement returns a single sample by id.
func (db *DB) GetMeasurement(id string) (Measurement, error) {
	var m Measurement
	err := db.QueryRow(`SELECT id, session_id, target_node, latitude, longitude, altitude, gps_accuracy,
		snr_to_target, snr_from_target, rssi, snr, trace_success, timestamp
		FROM measurements WHERE id = ?`, id).
		Scan(&m.ID, &m.SessionID, &m.TargetNode, &m.Latitude, &m.Longitude, &m.Altitude,
			&m.GPSAccuracy, &m.SNRToTarget, &m.SNRFromTarget, &m.RSSI, &m.SNR, &m.TraceSuccess, &m.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return Measurement{}, fmt.Errorf("measurement %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Measurement{}, fmt.Errorf("failed to load measurement %s: %w", id, err)
	}
	return m, nil
}

// CountMeasurements returns the number of samples recorded for a session.
func (db *DB) CountMeasurements(sessionID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM measurements WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count measurements: %w", err)
	}
	return n, nil
}
