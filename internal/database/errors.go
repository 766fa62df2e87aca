package database

import "errors"

// Error taxonomy for store operations. Callers branch with errors.Is.
var (
	// ErrConflict means an optimistic-version check failed. The caller
	// should reload the record and retry.
	ErrConflict = errors.New("version conflict")

	// ErrPrecondition means an operation invariant was violated, e.g.
	// purging a record that was never archived. Not retryable.
	ErrPrecondition = errors.New("precondition failed")

	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStoreUnavailable means the database cannot be reached at all.
	// Fatal to the current cycle; the next scheduled run retries.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrInsufficientData means an alert evaluation window held fewer
	// samples than the rule requires. The rule is skipped this cycle.
	ErrInsufficientData = errors.New("insufficient data points")
)
