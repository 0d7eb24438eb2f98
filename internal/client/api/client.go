// Package api defines the remote server interface consumed by the sync
// engine, and its HTTP implementation. The engine only ever talks to the
// Client interface, so tests substitute fakes freely.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/carekeeper/internal/client/models"
)

// CreateResult is the server's acknowledgment of a create.
type CreateResult struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// Client is the per-entity remote API. The path argument is the entity
// collection segment from entity.Descriptor.Path.
//
// A version mismatch on Update is reported as common.ErrVersionConflict.
// Delete is idempotent: deleting an already-deleted record succeeds.
type Client interface {
	// Ping probes server reachability.
	Ping(ctx context.Context) error

	// Create uploads a new record and returns its server id and version.
	Create(ctx context.Context, path string, fields json.RawMessage) (*CreateResult, error)

	// Update overwrites a record, validating against the given version.
	// Returns the new server version.
	Update(ctx context.Context, path, id string, fields json.RawMessage, version int64) (int64, error)

	// Delete removes a record.
	Delete(ctx context.Context, path, id string) error

	// Get fetches the authoritative copy of one record.
	Get(ctx context.Context, path, id string) (*models.ServerRecord, error)

	// List fetches the authoritative collection for a scope, e.g.
	// {"patient_id": "p1"}.
	List(ctx context.Context, path string, scope map[string]string) ([]models.ServerRecord, error)

	Close() error
}

// RequestError is a non-transport failure reported by the server.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether a push attempt that failed with err is worth
// retrying. Transport errors and 5xx responses are transient; 4xx responses
// are rejections that retrying will not fix. Version conflicts are neither:
// they are routed to the conflict resolver instead.
func IsRetryable(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode >= 500 || reqErr.StatusCode == 429
	}
	return true
}
