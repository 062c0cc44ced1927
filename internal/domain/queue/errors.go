package queue

import "errors"

var (
	// ErrPartitionLockTimeout means a token assignment waited longer than
	// the configured lock timeout for its (provider, day) sequence row.
	// Retryable; the booking transaction must roll back.
	ErrPartitionLockTimeout = errors.New("token partition lock timeout")

	// ErrStorageUnavailable wraps connection-level storage failures.
	// Retryable with backoff.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvariantViolation means computed metrics failed consistency
	// validation. The offending snapshot is rejected, never corrected.
	ErrInvariantViolation = errors.New("metrics invariant violation")

	// ErrSnapshotExists means metrics for the (provider, date) were already
	// aggregated and the run was not forced.
	ErrSnapshotExists = errors.New("metrics snapshot already exists")

	// ErrNotFound is returned for lookups of unknown appointments or
	// providers with no queue activity.
	ErrNotFound = errors.New("not found")
)
