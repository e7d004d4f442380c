package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// Node roles mirror the mesh firmware's role codes.
const (
	RoleRepeater = 0
	RoleClient   = 1
)

// RoleName returns a human-readable role label.
func RoleName(role int) string {
	switch role {
	case RoleRepeater:
		return "repeater"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", role)
	}
}

// RoleFromName maps a role label back to its code.
func RoleFromName(name string) (int, error) {
	switch name {
	case "repeater":
		return RoleRepeater, nil
	case "client":
		return RoleClient, nil
	default:
		return 0, fmt.Errorf("unknown role %q", name)
	}
}

// Node is a mesh device known to the registry. Latitude/Longitude/Altitude
// are nil for nodes that have never reported a position.
type Node struct {
	ID             int64
	MeshIdentity   string
	PublicKey      string
	Name           string
	Role           int
	Latitude       *float64
	Longitude      *float64
	Altitude       *float64
	EstimatedRange int
	IsActive       bool
	FirstSeen      sql.NullTime
	LastSeen       sql.NullTime
}

// ShortHash returns the node's two-character trace path hash.
func (n Node) ShortHash() string {
	if len(n.MeshIdentity) < 2 {
		return n.MeshIdentity
	}
	return n.MeshIdentity[:2]
}

// UpsertNode inserts a node or updates its mutable fields if the mesh
// identity is already known. Returns the node's row id.
func (db *DB) UpsertNode(n Node) (int64, error) {
	now := db.clock.Now().UTC()
	estimatedRange := n.EstimatedRange
	if estimatedRange <= 0 {
		estimatedRange = 1000
	}

	var id int64
	err := db.QueryRow(`
		INSERT INTO nodes (mesh_identity, public_key, name, role, latitude, longitude, altitude,
			estimated_range, is_active, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mesh_identity) DO UPDATE SET
			public_key = excluded.public_key,
			name = excluded.name,
			role = excluded.role,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude = excluded.altitude,
			estimated_range = excluded.estimated_range,
			is_active = excluded.is_active,
			last_seen = excluded.last_seen
		RETURNING id`,
		n.MeshIdentity, n.PublicKey, n.Name, n.Role, n.Latitude, n.Longitude, n.Altitude,
		estimatedRange, n.IsActive, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert node %q: %w", n.MeshIdentity, err)
	}
	return id, nil
}

const nodeColumns = `id, mesh_identity, public_key, name, role, latitude, longitude, altitude,
	estimated_range, is_active, first_seen, last_seen`

func scanNode(row interface{ Scan(...any) error }) (Node, error) {
	var n Node
	err := row.Scan(&n.ID, &n.MeshIdentity, &n.PublicKey, &n.Name, &n.Role,
		&n.Latitude, &n.Longitude, &n.Altitude, &n.EstimatedRange, &n.IsActive,
		&n.FirstSeen, &n.LastSeen)
	return n, err
}

// GetNode returns the node with the given row id.
func (db *DB) GetNode(id int64) (Node, error) {
	n, err := scanNode(db.QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Node{}, fmt.Errorf("failed to load node %d: %w", id, err)
	}
	return n, nil
}

// GetNodeByIdentity returns the node with the given mesh identity.
func (db *DB) GetNodeByIdentity(meshIdentity string) (Node, error) {
	n, err := scanNode(db.QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE mesh_identity = ?`, meshIdentity))
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("node %q: %w", meshIdentity, ErrNotFound)
	}
	if err != nil {
		return Node{}, fmt.Errorf("failed to load node %q: %w", meshIdentity, err)
	}
	return n, nil
}

// ListNodes returns nodes filtered by role (pass -1 for any role) and
// activity, ordered by name.
func (db *DB) ListNodes(role int, activeOnly bool) ([]Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE 1=1`
	var args []any
	if role >= 0 {
		query += ` AND role = ?`
		args = append(args, role)
	}
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY name, mesh_identity`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// ResolveNodeByHash finds the node whose mesh identity starts with the
// given on-air hash. Ambiguous prefixes resolve to the most recently
// seen match.
func (db *DB) ResolveNodeByHash(hash string) (Node, error) {
	if hash == "" {
		return Node{}, fmt.Errorf("empty node hash: %w", ErrNotFound)
	}
	n, err := scanNode(db.QueryRow(`SELECT `+nodeColumns+` FROM nodes
		WHERE mesh_identity LIKE ? || '%' ORDER BY last_seen DESC LIMIT 1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("node hash %q: %w", hash, ErrNotFound)
	}
	if err != nil {
		return Node{}, fmt.Errorf("failed to resolve node hash %q: %w", hash, err)
	}
	return n, nil
}

// TouchNodeLastSeen updates a node's freshness timestamp by mesh identity
// prefix (the two-character short hash used on the air).
func (db *DB) TouchNodeLastSeen(shortHash string) error {
	now := db.clock.Now().UTC()
	_, err := db.Exec(`UPDATE nodes SET last_seen = ? WHERE mesh_identity LIKE ? || '%'`, now, shortHash)
	if err != nil {
		return fmt.Errorf("failed to touch node %q: %w", shortHash, err)
	}
	return nil
}
