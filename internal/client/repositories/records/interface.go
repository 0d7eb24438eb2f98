// Package records stores local entity instances and their sync state.
package records

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/carekeeper/internal/client/models"
)

// Repository is the local record store backing the sync engine. Rows are
// generic: domain fields live in a JSON payload, so one store serves every
// entity type.
type Repository interface {
	// Upsert inserts or fully replaces a record row.
	Upsert(ctx context.Context, rec *models.Record) error

	// GetByID returns a record by local id, or common.ErrorNotFound.
	GetByID(ctx context.Context, id string) (*models.Record, error)

	// GetByRemoteID returns the record matching a server id, or
	// common.ErrorNotFound.
	GetByRemoteID(ctx context.Context, entityType, remoteID string) (*models.Record, error)

	// MarkSynced records a confirmed push: stores the server id and version
	// and flags the row as reconciled.
	MarkSynced(ctx context.Context, id, remoteID string, version int64, syncedAt time.Time) error

	// ApplyServer overwrites payload and version from server state, setting
	// the synced flag as instructed (a pull over unsynced local work keeps
	// it false).
	ApplyServer(ctx context.Context, id string, payload json.RawMessage, version int64, synced bool, syncedAt time.Time) error

	// SoftDelete marks the record deleted while the delete awaits server
	// acknowledgment.
	SoftDelete(ctx context.Context, id string) error

	// Purge removes the row after the server acknowledged its deletion.
	Purge(ctx context.Context, id string) error

	// ListActive returns all non-deleted records of one entity type.
	ListActive(ctx context.Context, entityType string) ([]*models.Record, error)

	// ListUnsynced returns records whose local state has not been confirmed
	// by the server.
	ListUnsynced(ctx context.Context, entityType string) ([]*models.Record, error)
}
