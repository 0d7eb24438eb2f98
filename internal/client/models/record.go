// Package models defines client-side data models used by the CareKeeper
// sync engine.
package models

import (
	"encoding/json"
	"time"
)

// Record is a locally persisted entity instance visible to the UI and
// reconciled with the server by the sync engine. Domain fields live in
// Payload as a JSON object; the engine itself is entity-agnostic.
type Record struct {
	// ID is the local identifier, stable across the record's lifetime.
	ID string

	// EntityType discriminates which entity kind this record belongs to.
	EntityType string

	// RemoteID is the server-assigned identifier; empty until the first
	// successful create.
	RemoteID string

	// Version is the monotonic, server-assigned version used for sync/merge.
	// Local copies start at 0 before the first acknowledgment.
	Version int64

	// Payload holds the entity's domain fields as a JSON object.
	Payload json.RawMessage

	// Synced is true iff the local copy is known identical to the
	// last-fetched or last-pushed server copy.
	Synced bool

	// Deleted marks the record as a tombstone; the row is retained until the
	// server acknowledges the delete, then purged.
	Deleted bool

	// SyncedAt is the time of the last successful reconciliation.
	SyncedAt *time.Time

	// UpdatedAt is the last local modification time in UTC.
	UpdatedAt time.Time
}

// ServerRecord is one authoritative entity instance as reported by the
// server. Fields carries the domain fields as a JSON object.
type ServerRecord struct {
	ID        string          `json:"id"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Fields    json.RawMessage `json:"fields"`
}
