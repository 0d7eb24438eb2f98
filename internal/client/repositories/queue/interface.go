// Package queue persists pending local mutations until the server
// acknowledges them.
package queue

import (
	"context"

	"github.com/dmitrijs2005/carekeeper/internal/client/models"
)

// Repository is the durable queue store. The queue holds only pending work:
// a successfully sent entry is removed, never left in a "done" state.
//
// All operations are atomic with respect to local storage; no side effect is
// visible to callers until they return.
type Repository interface {
	// Enqueue appends the pending mutation for an entity, or replaces an
	// existing one: repeated offline edits of the same record collapse into
	// the latest payload under a single entry. The original queue position
	// (FIFO order) is kept; attempt bookkeeping is reset.
	Enqueue(ctx context.Context, e *models.QueueEntry) error

	// NextBatch returns up to limit entries of the given entity type whose
	// action is in actions and whose attempts are below maxAttempts,
	// oldest first.
	NextBatch(ctx context.Context, entityType string, actions []models.Action, maxAttempts, limit int) ([]*models.QueueEntry, error)

	// MarkAttempt increments the attempt counter and records the error of a
	// failed send.
	MarkAttempt(ctx context.Context, id int64, attemptErr string) error

	// Park stamps the entry with a final error and an attempt count at the
	// retry ceiling, so automatic retries stop until a manual reset.
	Park(ctx context.Context, id int64, attempts int, attemptErr string) error

	// Remove deletes an entry on confirmed success or user-initiated discard.
	Remove(ctx context.Context, id int64) error

	// ResetAttempts clears attempt bookkeeping so a parked entry is picked
	// up by the next run (manual "retry" action).
	ResetAttempts(ctx context.Context, id int64) error

	// GetByEntity returns the pending entry for one record, or
	// common.ErrorNotFound.
	GetByEntity(ctx context.Context, entityID, entityType string) (*models.QueueEntry, error)

	// List returns every queue entry, oldest first.
	List(ctx context.Context) ([]*models.QueueEntry, error)

	// Count returns the number of pending entries (the operator-visible
	// pending-sync count).
	Count(ctx context.Context) (int, error)
}
