package sync

import (
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	// DefaultMaxAttempts is the total send budget per queue entry,
	// counting attempts persisted from earlier runs.
	DefaultMaxAttempts = 5

	// DefaultBackoffBase is the delay before the first retry; each further
	// retry doubles it (base * 2^n).
	DefaultBackoffBase = 500 * time.Millisecond

	// DefaultBackoffCap is the ceiling a single retry delay never exceeds.
	DefaultBackoffCap = 30 * time.Second
)

// newBackoff builds the retry schedule for one queue entry: exponential
// doubling from base, capped, with at most remaining retries after the
// initial attempt. Delays are monotonically non-decreasing.
func newBackoff(base, ceiling time.Duration, remaining uint64) retry.Backoff {
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(ceiling, b)
	b = retry.WithMaxRetries(remaining, b)
	return b
}
