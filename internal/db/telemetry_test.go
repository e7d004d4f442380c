package db

import (
	"math"
	"testing"
	"time"
)

func TestRecordAndListTelemetry(t *testing.T) {
	database, clock := newTestDB(t)
	node := testTargetNode(t, database)

	for i := 0; i < 3; i++ {
		err := database.RecordTelemetry(TelemetryRecord{
			NodeID:         node,
			BattMilliVolts: 4100 - i*50,
			NoiseFloor:     -95,
			LastRSSI:       -80 - i,
			LastSNR:        7,
			NPacketsRecv:   int64(100 + i),
		})
		if err != nil {
			t.Fatalf("RecordTelemetry(%d) error: %v", i, err)
		}
		clock.Advance(time.Minute)
	}

	records, err := database.ListTelemetry(node, 0)
	if err != nil {
		t.Fatalf("ListTelemetry() error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].BattMilliVolts != 4000 {
		t.Errorf("newest-first: BattMilliVolts = %d, want 4000", records[0].BattMilliVolts)
	}

	limited, err := database.ListTelemetry(node, 1)
	if err != nil {
		t.Fatalf("ListTelemetry(limit) error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit: got %d, want 1", len(limited))
	}
}

func TestSummarizeTelemetry(t *testing.T) {
	database, clock := newTestDB(t)
	node := testTargetNode(t, database)

	samples := []struct {
		mv   int
		rssi int
	}{
		{4000, -90},
		{4100, -85},
		{4200, -80},
	}
	for _, s := range samples {
		if err := database.RecordTelemetry(TelemetryRecord{
			NodeID:         node,
			BattMilliVolts: s.mv,
			NoiseFloor:     -96,
			LastRSSI:       s.rssi,
			LastSNR:        5,
		}); err != nil {
			t.Fatalf("RecordTelemetry() error: %v", err)
		}
		clock.Advance(time.Minute)
	}

	summary, err := database.SummarizeTelemetry(node, time.Time{})
	if err != nil {
		t.Fatalf("SummarizeTelemetry() error: %v", err)
	}
	if summary.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", summary.Samples)
	}
	if summary.BattMeanMV != 4100 {
		t.Errorf("BattMeanMV = %v, want 4100", summary.BattMeanMV)
	}
	if math.Abs(summary.BattStdDevMV-100) > 1e-9 {
		t.Errorf("BattStdDevMV = %v, want 100", summary.BattStdDevMV)
	}
	if summary.NoiseFloorMean != -96 {
		t.Errorf("NoiseFloorMean = %v, want -96", summary.NoiseFloorMean)
	}
	if summary.RSSI.Min != -90 || summary.RSSI.Max != -80 {
		t.Errorf("RSSI range = [%v, %v], want [-90, -80]", summary.RSSI.Min, summary.RSSI.Max)
	}
	if summary.RSSI.P50 != -85 {
		t.Errorf("RSSI.P50 = %v, want -85", summary.RSSI.P50)
	}
	if summary.SNR.Mean != 5 || summary.SNR.P95 != 5 {
		t.Errorf("SNR distribution = %+v, want all 5", summary.SNR)
	}
	if !summary.LastSample.After(summary.FirstSample) {
		t.Errorf("sample window inverted: %v .. %v", summary.FirstSample, summary.LastSample)
	}
}

func TestSummarizeTelemetryEmpty(t *testing.T) {
	database, _ := newTestDB(t)
	node := testTargetNode(t, database)

	summary, err := database.SummarizeTelemetry(node, time.Time{})
	if err != nil {
		t.Fatalf("SummarizeTelemetry() error: %v", err)
	}
	if summary.Samples != 0 {
		t.Errorf("Samples = %d, want 0", summary.Samples)
	}
}

func TestUpsertNeighbour(t *testing.T) {
	database, _ := newTestDB(t)
	a := testTargetNode(t, database)
	b, err := database.UpsertNode(Node{MeshIdentity: "bb44cc", Name: "peer", Role: RoleRepeater, IsActive: true})
	if err != nil {
		t.Fatalf("UpsertNode() error: %v", err)
	}

	if err := database.UpsertNeighbour(Neighbour{NodeID: a, NeighbourID: b, AdvertTimestamp: 1000, HeardTimestamp: 1001, SNR: 12}); err != nil {
		t.Fatalf("UpsertNeighbour() insert error: %v", err)
	}
	if err := database.UpsertNeighbour(Neighbour{NodeID: a, NeighbourID: b, AdvertTimestamp: 2000, HeardTimestamp: 2002, SNR: 9}); err != nil {
		t.Fatalf("UpsertNeighbour() update error: %v", err)
	}

	got, err := database.ListNeighbours(a)
	if err != nil {
		t.Fatalf("ListNeighbours() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d neighbours, want 1 after upsert", len(got))
	}
	if got[0].AdvertTimestamp != 2000 || got[0].SNR != 9 {
		t.Errorf("neighbour not refreshed: %+v", got[0])
	}
}
