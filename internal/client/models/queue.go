package models

import (
	"encoding/json"
	"time"
)

// Action classifies a pending local mutation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// QueueEntry is one pending local mutation awaiting server acknowledgment.
// Entries are created atomically with the local record change and deleted on
// confirmed success; the queue only ever holds pending work.
type QueueEntry struct {
	// ID is the queue row id (autoincrement, defines FIFO order together
	// with CreatedAt).
	ID int64

	// EntityID is the local identifier of the record this mutation targets.
	EntityID string

	// EntityType discriminates which entity kind this mutation targets.
	EntityType string

	// Action is the mutation kind: create, update or delete.
	Action Action

	// Payload is the serialized snapshot of the fields to send.
	// Empty for deletes.
	Payload json.RawMessage

	// Attempts counts failed sends. Starts at 0.
	Attempts int

	// LastAttemptAt is the time of the most recent failed send, if any.
	LastAttemptAt *time.Time

	// LastError is the most recent send error, if any.
	LastError string

	// CreatedAt is when the mutation was queued, in UTC.
	CreatedAt time.Time
}
