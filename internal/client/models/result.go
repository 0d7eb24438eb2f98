package models

import "time"

// SyncResult is the aggregate outcome of one sync run. It is constructed
// fresh per run and never persisted.
type SyncResult struct {
	// Success is false when the run was aborted (offline) or any entry
	// exhausted its retries. Resolved conflicts do not imply failure.
	Success bool

	// Synced counts mutations confirmed by the server plus records
	// inserted or upgraded by the pull phase.
	Synced int

	// Failed counts queue entries parked after exhausting retries.
	Failed int

	// Conflicts counts version conflicts encountered, whether auto-resolved
	// or recorded during pull.
	Conflicts int

	// Errors holds human-readable error strings collected during the run.
	Errors []string
}

// AddError appends a human-readable error to the result.
func (r *SyncResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// Merge folds another result into r. Success is recomputed by the caller.
func (r *SyncResult) Merge(other *SyncResult) {
	if other == nil {
		return
	}
	r.Synced += other.Synced
	r.Failed += other.Failed
	r.Conflicts += other.Conflicts
	r.Errors = append(r.Errors, other.Errors...)
}

// ErrorLogEntry is one line of the bounded diagnostic trail kept by the
// engine across sync runs.
type ErrorLogEntry struct {
	Time     time.Time
	EntityID string
	Action   Action
	Attempt  int
	Message  string
}
