// Package sync implements the offline-first synchronization engine: a
// durable mutation queue drained by a push phase with bounded retries, a
// conflict resolver for competing writers, and a pull phase that folds
// authoritative server state back into the local store.
package sync

import (
	"sync"
	"time"

	"github.com/dmitrijs2005/carekeeper/internal/client/models"
)

// DefaultErrorLogCapacity bounds the diagnostic trail kept per engine.
const DefaultErrorLogCapacity = 100

// ErrorLog is a bounded, append-only diagnostic trail kept across sync runs.
// It is owned by the engine instance, not process-wide. Once capacity is
// reached the oldest entries are evicted. Appending never fails.
type ErrorLog struct {
	mu      sync.Mutex
	cap     int
	entries []models.ErrorLogEntry
}

// NewErrorLog returns a log holding at most capacity entries.
// A non-positive capacity falls back to DefaultErrorLogCapacity.
func NewErrorLog(capacity int) *ErrorLog {
	if capacity <= 0 {
		capacity = DefaultErrorLogCapacity
	}
	return &ErrorLog{cap: capacity}
}

// Append records one failed operation. Safe on a nil receiver so callers
// never have to guard logging.
func (l *ErrorLog) Append(entityID string, action models.Action, attempt int, err error) {
	if l == nil || err == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, models.ErrorLogEntry{
		Time:     time.Now().UTC(),
		EntityID: entityID,
		Action:   action,
		Attempt:  attempt,
		Message:  err.Error(),
	})
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
}

// Entries returns a copy of the trail, oldest first.
func (l *ErrorLog) Entries() []models.ErrorLogEntry {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.ErrorLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the current number of retained entries.
func (l *ErrorLog) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
