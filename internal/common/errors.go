// Package common defines shared constants and sentinel errors used across
// CareKeeper components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Sync errors.
	ErrOffline         = errors.New("no connection")
	ErrVersionConflict = errors.New("version conflict")
	ErrSyncInProgress  = errors.New("sync already in progress")
)
