package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshfield/meshmap/internal/timeutil"
)

// newTestDB opens a fresh database in a per-test temp dir with a mock
// clock pinned to a known instant.
func newTestDB(t *testing.T) (*DB, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	database, err := NewDB(filepath.Join(t.TempDir(), "test.db"), clock)
	if err != nil {
		t.Fatalf("NewDB() error: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database, clock
}

func TestNewDBAppliesMigrations(t *testing.T) {
	database, _ := newTestDB(t)

	for _, table := range []string{"nodes", "sessions", "measurements", "telemetry", "neighbours"} {
		var name string
		err := database.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing after migration: %v", table, err)
		}
	}
}

func TestNewDBIsIdempotent(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	path := filepath.Join(t.TempDir(), "reopen.db")

	database, err := NewDB(path, clock)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := database.UpsertNode(Node{MeshIdentity: "a1b2c3", Name: "alpha"}); err != nil {
		t.Fatalf("UpsertNode() error: %v", err)
	}
	database.Close()

	// Reopening must not re-run migrations or lose data.
	database, err = NewDB(path, clock)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer database.Close()

	if _, err := database.GetNodeByIdentity("a1b2c3"); err != nil {
		t.Errorf("node lost across reopen: %v", err)
	}
}

func TestGetNodeNotFound(t *testing.T) {
	database, _ := newTestDB(t)

	if _, err := database.GetNode(999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNode(999) error = %v, want ErrNotFound", err)
	}
	if _, err := database.GetNodeByIdentity("zz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNodeByIdentity(zz) error = %v, want ErrNotFound", err)
	}
}
