// Package telemetry consumes passive frames off the radio mux and keeps the
// node registry and repeater stats tables current. Trace responses are left
// alone: the trace path owns those.
package telemetry

import (
	"context"
	"errors"

	"github.com/meshfield/meshmap/internal/db"
	"github.com/meshfield/meshmap/internal/monitoring"
	"github.com/meshfield/meshmap/internal/radio"
)

// Ingester subscribes to the radio mux and persists telemetry and
// neighbour advert frames.
type Ingester struct {
	db  *db.DB
	mux radio.Muxer
}

func NewIngester(database *db.DB, mux radio.Muxer) *Ingester {
	return &Ingester{db: database, mux: mux}
}

// Run consumes frames until the context is cancelled or the mux closes
// its channel. Decode failures are logged and skipped so one bad frame
// never stalls the stream.
func (in *Ingester) Run(ctx context.Context) error {
	id, frames := in.mux.Subscribe()
	defer in.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-frames:
			if !ok {
				return nil
			}
			in.handleFrame(line)
		}
	}
}

func (in *Ingester) handleFrame(line string) {
	switch radio.ClassifyFrame(line) {
	case radio.FrameTypeTelemetry:
		frame, err := radio.ParseTelemetry(line)
		if err != nil {
			monitoring.Logf("telemetry: skipping bad frame: %v", err)
			return
		}
		if err := in.recordTelemetry(frame); err != nil {
			monitoring.Logf("telemetry: %v", err)
		}
	case radio.FrameTypeAdvert:
		frame, err := radio.ParseAdvert(line)
		if err != nil {
			monitoring.Logf("telemetry: skipping bad advert: %v", err)
			return
		}
		if err := in.recordAdvert(frame); err != nil {
			monitoring.Logf("telemetry: %v", err)
		}
	}
}

func (in *Ingester) recordTelemetry(frame radio.TelemetryFrame) error {
	node, err := in.resolveOrRegister(frame.Origin)
	if err != nil {
		return err
	}
	record := db.TelemetryRecord{
		NodeID:             node.ID,
		BattMilliVolts:     int(frame.BattMilliVolts),
		CurrTxQueueLen:     int(frame.CurrTxQueueLen),
		NoiseFloor:         frame.NoiseFloor,
		LastRSSI:           frame.LastRSSI,
		LastSNR:            frame.LastSNR,
		NPacketsRecv:       int64(frame.NPacketsRecv),
		NPacketsSent:       int64(frame.NPacketsSent),
		NRecvFlood:         int64(frame.NRecvFlood),
		NRecvDirect:        int64(frame.NRecvDirect),
		NSentFlood:         int64(frame.NSentFlood),
		NSentDirect:        int64(frame.NSentDirect),
		NFloodDups:         int(frame.NFloodDups),
		NDirectDups:        int(frame.NDirectDups),
		TotalAirTimeSecs:   int64(frame.TotalAirTimeSecs),
		TotalRxAirTimeSecs: int64(frame.TotalRxAirTimeSecs),
		TotalUpTimeSecs:    int64(frame.TotalUpTimeSecs),
		ErrEvents:          int(frame.ErrEvents),
	}
	if err := in.db.RecordTelemetry(record); err != nil {
		return err
	}
	return in.db.TouchNodeLastSeen(frame.Origin)
}

func (in *Ingester) recordAdvert(frame radio.AdvertFrame) error {
	origin, err := in.resolveOrRegister(frame.Origin)
	if err != nil {
		return err
	}
	neighbour, err := in.resolveOrRegister(frame.Neighbour)
	if err != nil {
		return err
	}
	err = in.db.UpsertNeighbour(db.Neighbour{
		NodeID:          origin.ID,
		NeighbourID:     neighbour.ID,
		AdvertTimestamp: int64(frame.AdvertTimestamp),
		HeardTimestamp:  int64(frame.HeardTimestamp),
		SNR:             frame.SNR,
	})
	if err != nil {
		return err
	}
	return in.db.TouchNodeLastSeen(frame.Origin)
}

// resolveOrRegister maps an on-air hash to a node row, creating a
// placeholder repeater entry for hashes we have never seen. Placeholders
// pick up a proper name and position once an operator edits them.
func (in *Ingester) resolveOrRegister(hash string) (db.Node, error) {
	node, err := in.db.ResolveNodeByHash(hash)
	if err == nil {
		return node, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return db.Node{}, err
	}

	monitoring.Logf("telemetry: registering unknown node %s", hash)
	id, err := in.db.UpsertNode(db.Node{
		MeshIdentity: hash,
		Name:         "unknown-" + hash,
		Role:         db.RoleRepeater,
		IsActive:     true,
	})
	if err != nil {
		return db.Node{}, err
	}
	return in.db.GetNode(id)
}
