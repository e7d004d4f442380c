package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is a mapping run against a single target node. EndTime is nil
// while the session is still open.
type Session struct {
	ID         string
	TargetNode int64
	StartTime  time.Time
	EndTime    *time.Time
	Notes      string
}

// IsActive reports whether the session has not been ended yet.
func (s Session) IsActive() bool { return s.EndTime == nil }

// CreateSession opens a new mapping session against the given target node
// and returns it with a fresh id.
func (db *DB) CreateSession(targetNode int64, notes string) (Session, error) {
	if _, err := db.GetNode(targetNode); err != nil {
		return Session{}, err
	}

	s := Session{
		ID:         uuid.NewString(),
		TargetNode: targetNode,
		StartTime:  db.clock.Now().UTC(),
		Notes:      notes,
	}
	_, err := db.Exec(`INSERT INTO sessions (id, target_node, start_time, notes) VALUES (?, ?, ?, ?)`,
		s.ID, s.TargetNode, s.StartTime, s.Notes)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

// EndSession closes an open session. Ending an already-ended session is
// a no-op and keeps the original end time.
func (db *DB) EndSession(id string) (Session, error) {
	now := db.clock.Now().UTC()
	res, err := db.Exec(`UPDATE sessions SET end_time = ? WHERE id = ? AND end_time IS NULL`, now, id)
	if err != nil {
		return Session{}, fmt.Errorf("failed to end session %s: %w", id, err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return Session{}, err
	}
	return db.GetSession(id)
}

// GetSession returns the session with the given id.
func (db *DB) GetSession(id string) (Session, error) {
	var s Session
	err := db.QueryRow(`SELECT id, target_node, start_time, end_time, notes FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.TargetNode, &s.StartTime, &s.EndTime, &s.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return s, nil
}

// ListSessions returns sessions newest-first, optionally filtered to a
// target node (pass 0 for all) and to active sessions only.
func (db *DB) ListSessions(targetNode int64, activeOnly bool) ([]Session, error) {
	query := `SELECT id, target_node, start_time, end_time, notes FROM sessions WHERE 1=1`
	var args []any
	if targetNode > 0 {
		query += ` AND target_node = ?`
		args = append(args, targetNode)
	}
	if activeOnly {
		query += ` AND end_time IS NULL`
	}
	query += ` ORDER BY start_time DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.TargetNode, &s.StartTime, &s.EndTime, &s.Notes); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
