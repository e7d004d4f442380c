package db

import (
	"testing"
	"time"
)

func TestUpsertNodeInsertThenUpdate(t *testing.T) {
	database, _ := newTestDB(t)

	lat, lon := 51.5074, -0.1278
	id, err := database.UpsertNode(Node{
		MeshIdentity: "a1f00d",
		Name:         "hilltop",
		Role:         RoleRepeater,
		Latitude:     &lat,
		Longitude:    &lon,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("UpsertNode() insert error: %v", err)
	}

	// Same identity updates in place and keeps the row id.
	id2, err := database.UpsertNode(Node{
		MeshIdentity: "a1f00d",
		Name:         "hilltop-renamed",
		Role:         RoleRepeater,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("UpsertNode() update error: %v", err)
	}
	if id2 != id {
		t.Errorf("update changed id: got %d, want %d", id2, id)
	}

	n, err := database.GetNode(id)
	if err != nil {
		t.Fatalf("GetNode() error: %v", err)
	}
	if n.Name != "hilltop-renamed" {
		t.Errorf("Name = %q, want %q", n.Name, "hilltop-renamed")
	}
	if n.Latitude != nil {
		t.Errorf("Latitude = %v, want nil after update with no position", *n.Latitude)
	}
	if n.EstimatedRange != 1000 {
		t.Errorf("EstimatedRange = %d, want default 1000", n.EstimatedRange)
	}
}

func TestListNodesFilters(t *testing.T) {
	database, _ := newTestDB(t)

	mustUpsert := func(n Node) int64 {
		t.Helper()
		id, err := database.UpsertNode(n)
		if err != nil {
			t.Fatalf("UpsertNode(%q) error: %v", n.MeshIdentity, err)
		}
		return id
	}
	mustUpsert(Node{MeshIdentity: "aa1111", Name: "rpt-a", Role: RoleRepeater, IsActive: true})
	mustUpsert(Node{MeshIdentity: "bb2222", Name: "rpt-b", Role: RoleRepeater, IsActive: false})
	mustUpsert(Node{MeshIdentity: "cc3333", Name: "phone", Role: RoleClient, IsActive: true})

	all, err := database.ListNodes(-1, false)
	if err != nil {
		t.Fatalf("ListNodes(-1, false) error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListNodes(-1, false): got %d nodes, want 3", len(all))
	}

	repeaters, err := database.ListNodes(RoleRepeater, false)
	if err != nil {
		t.Fatalf("ListNodes(repeater) error: %v", err)
	}
	if len(repeaters) != 2 {
		t.Errorf("repeaters: got %d, want 2", len(repeaters))
	}

	activeRepeaters, err := database.ListNodes(RoleRepeater, true)
	if err != nil {
		t.Fatalf("ListNodes(repeater, active) error: %v", err)
	}
	if len(activeRepeaters) != 1 || activeRepeaters[0].MeshIdentity != "aa1111" {
		t.Errorf("active repeaters: got %+v, want only aa1111", activeRepeaters)
	}
}

func TestTouchNodeLastSeen(t *testing.T) {
	database, clock := newTestDB(t)

	id, err := database.UpsertNode(Node{MeshIdentity: "de4d00", Name: "rpt", Role: RoleRepeater, IsActive: true})
	if err != nil {
		t.Fatalf("UpsertNode() error: %v", err)
	}
	before, _ := database.GetNode(id)

	clock.Advance(90 * time.Second)
	if err := database.TouchNodeLastSeen("de"); err != nil {
		t.Fatalf("TouchNodeLastSeen() error: %v", err)
	}

	after, err := database.GetNode(id)
	if err != nil {
		t.Fatalf("GetNode() error: %v", err)
	}
	if !after.LastSeen.Time.After(before.LastSeen.Time) {
		t.Errorf("last_seen not advanced: before=%v after=%v", before.LastSeen.Time, after.LastSeen.Time)
	}
}

func TestShortHash(t *testing.T) {
	tests := []struct {
		identity string
		want     string
	}{
		{"a1b2c3d4", "a1"},
		{"f", "f"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := (Node{MeshIdentity: tt.identity}).ShortHash(); got != tt.want {
			t.Errorf("ShortHash(%q) = %q, want %q", tt.identity, got, tt.want)
		}
	}
}

func TestRoleNames(t *testing.T) {
	if got := RoleName(RoleRepeater); got != "repeater" {
		t.Errorf("RoleName(RoleRepeater) = %q", got)
	}
	if got := RoleName(RoleClient); got != "client" {
		t.Errorf("RoleName(RoleClient) = %q", got)
	}
	if _, err := RoleFromName("gateway"); err == nil {
		t.Error("RoleFromName(gateway) should fail")
	}
	r, err := RoleFromName("repeater")
	if err != nil || r != RoleRepeater {
		t.Errorf("RoleFromName(repeater) = %d, %v", r, err)
	}
}
