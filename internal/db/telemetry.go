package db

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// TelemetryRecord is one repeater stats report decoded off the mesh.
type TelemetryRecord struct {
	ID                 int64
	NodeID             int64
	BattMilliVolts     int
	CurrTxQueueLen     int
	NoiseFloor         int
	LastRSSI           int
	LastSNR            int
	NPacketsRecv       int64
	NPacketsSent       int64
	NRecvFlood         int64
	NRecvDirect        int64
	NSentFlood         int64
	NSentDirect        int64
	NFloodDups         int
	NDirectDups        int
	TotalAirTimeSecs   int64
	TotalRxAirTimeSecs int64
	TotalUpTimeSecs    int64
	ErrEvents          int
	Timestamp          time.Time
}

// RecordTelemetry persists a stats report for a node.
func (db *DB) RecordTelemetry(r TelemetryRecord) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = db.clock.Now().UTC()
	}
	_, err := db.Exec(`
		INSERT INTO telemetry (node_id, batt_milli_volts, curr_tx_queue_len, noise_floor,
			last_rssi, last_snr, n_packets_recv, n_packets_sent, n_recv_flood, n_recv_direct,
			n_sent_flood, n_sent_direct, n_flood_dups, n_direct_dups, total_air_time_secs,
			total_rx_air_time_secs, total_up_time_secs, err_events, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.NodeID, r.BattMilliVolts, r.CurrTxQueueLen, r.NoiseFloor,
		r.LastRSSI, r.LastSNR, r.NPacketsRecv, r.NPacketsSent, r.NRecvFlood, r.NRecvDirect,
		r.NSentFlood, r.NSentDirect, r.NFloodDups, r.NDirectDups, r.TotalAirTimeSecs,
		r.TotalRxAirTimeSecs, r.TotalUpTimeSecs, r.ErrEvents, r.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record telemetry for node %d: %w", r.NodeID, err)
	}
	return nil
}

// ListTelemetry returns telemetry for a node newest-first, up to limit
// records (0 for all).
func (db *DB) ListTelemetry(nodeID int64, limit int) ([]TelemetryRecord, error) {
	query := `SELECT id, node_id, batt_milli_volts, curr_tx_queue_len, noise_floor,
		last_rssi, last_snr, n_packets_recv, n_packets_sent, n_recv_flood, n_recv_direct,
		n_sent_flood, n_sent_direct, n_flood_dups, n_direct_dups, total_air_time_secs,
		total_rx_air_time_secs, total_up_time_secs, err_events, timestamp
		FROM telemetry WHERE node_id = ? ORDER BY timestamp DESC`
	args := []any{nodeID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list telemetry: %w", err)
	}
	defer rows.Close()

	var out []TelemetryRecord
	for rows.Next() {
		var r TelemetryRecord
		if err := rows.Scan(&r.ID, &r.NodeID, &r.BattMilliVolts, &r.CurrTxQueueLen, &r.NoiseFloor,
			&r.LastRSSI, &r.LastSNR, &r.NPacketsRecv, &r.NPacketsSent, &r.NRecvFlood, &r.NRecvDirect,
			&r.NSentFlood, &r.NSentDirect, &r.NFloodDups, &r.NDirectDups, &r.TotalAirTimeSecs,
			&r.TotalRxAirTimeSecs, &r.TotalUpTimeSecs, &r.ErrEvents, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Distribution summarizes one telemetry metric across a window.
type Distribution struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P95  float64 `json:"p95"`
}

// TelemetrySummary aggregates a node's telemetry over a window.
type TelemetrySummary struct {
	NodeID           int64        `json:"node_id"`
	Samples          int          `json:"samples"`
	BattMeanMV       float64      `json:"batt_mean_mv"`
	BattStdDevMV     float64      `json:"batt_stddev_mv"`
	NoiseFloorMean   float64      `json:"noise_floor_mean"`
	NoiseFloorStdDev float64      `json:"noise_floor_stddev"`
	LastRSSIMean     float64      `json:"last_rssi_mean"`
	LastSNRMean      float64      `json:"last_snr_mean"`
	RSSI             Distribution `json:"rssi"`
	SNR              Distribution `json:"snr"`
	FirstSample      time.Time    `json:"first_sample"`
	LastSample       time.Time    `json:"last_sample"`
}

// distribution computes a Distribution over the samples. The slice is sorted
// in place.
func distribution(samples []float64) Distribution {
	sort.Float64s(samples)
	return Distribution{
		Min:  samples[0],
		Max:  samples[len(samples)-1],
		Mean: stat.Mean(samples, nil),
		P50:  stat.Quantile(0.5, stat.Empirical, samples, nil),
		P95:  stat.Quantile(0.95, stat.Empirical, samples, nil),
	}
}

// SummarizeTelemetry computes battery and noise-floor statistics for a
// node over records since the given time (zero for all history).
func (db *DB) SummarizeTelemetry(nodeID int64, since time.Time) (TelemetrySummary, error) {
	query := `SELECT batt_milli_volts, noise_floor, last_rssi, last_snr, timestamp
		FROM telemetry WHERE node_id = ?`
	args := []any{nodeID}
	if !since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return TelemetrySummary{}, fmt.Errorf("failed to summarize telemetry: %w", err)
	}
	defer rows.Close()

	var batt, noise, rssi, snr []float64
	summary := TelemetrySummary{NodeID: nodeID}
	for rows.Next() {
		var b, nf, r, s int
		var ts time.Time
		if err := rows.Scan(&b, &nf, &r, &s, &ts); err != nil {
			return TelemetrySummary{}, err
		}
		batt = append(batt, float64(b))
		noise = append(noise, float64(nf))
		rssi = append(rssi, float64(r))
		snr = append(snr, float64(s))
		if summary.FirstSample.IsZero() {
			summary.FirstSample = ts
		}
		summary.LastSample = ts
	}
	if err := rows.Err(); err != nil {
		return TelemetrySummary{}, err
	}

	summary.Samples = len(batt)
	if summary.Samples == 0 {
		return summary, nil
	}

	summary.BattMeanMV, summary.BattStdDevMV = stat.MeanStdDev(batt, nil)
	summary.NoiseFloorMean, summary.NoiseFloorStdDev = stat.MeanStdDev(noise, nil)
	summary.LastRSSIMean = stat.Mean(rssi, nil)
	summary.LastSNRMean = stat.Mean(snr, nil)
	summary.RSSI = distribution(rssi)
	summary.SNR = distribution(snr)
	if summary.Samples < 2 {
		summary.BattStdDevMV = 0
		summary.NoiseFloorStdDev = 0
	}
	return summary, nil
}

// Neighbour is one entry in a repeater's advertised neighbour table.
type Neighbour struct {
	NodeID          int64
	NeighbourID     int64
	AdvertTimestamp int64
	HeardTimestamp  int64
	SNR             int
	LastUpdated     time.Time
}

// UpsertNeighbour records or refreshes a neighbour relation.
func (db *DB) UpsertNeighbour(n Neighbour) error {
	now := db.clock.Now().UTC()
	_, err := db.Exec(`
		INSERT INTO neighbours (node_id, neighbour_id, advert_timestamp, heard_timestamp, snr, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id, neighbour_id) DO UPDATE SET
			advert_timestamp = excluded.advert_timestamp,
			heard_timestamp = excluded.heard_timestamp,
			snr = excluded.snr,
			last_updated = excluded.last_updated`,
		n.NodeID, n.NeighbourID, n.AdvertTimestamp, n.HeardTimestamp, n.SNR, now)
	if err != nil {
		return fmt.Errorf("failed to upsert neighbour %d->%d: %w", n.NodeID, n.NeighbourID, err)
	}
	return nil
}

// ListNeighbours returns a node's neighbour table.
func (db *DB) ListNeighbours(nodeID int64) ([]Neighbour, error) {
	rows, err := db.Query(`SELECT node_id, neighbour_id, advert_timestamp, heard_timestamp, snr, last_updated
		FROM neighbours WHERE node_id = ? ORDER BY neighbour_id`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list neighbours: %w", err)
	}
	defer rows.Close()

	var out []Neighbour
	for rows.Next() {
		var n Neighbour
		if err := rows.Scan(&n.NodeID, &n.NeighbourID, &n.AdvertTimestamp, &n.HeardTimestamp, &n.SNR, &n.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
