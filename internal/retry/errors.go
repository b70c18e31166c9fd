package retry

import "errors"

var (
	// ErrDrainFailed is returned by Flush when an entry could not be delivered.
	ErrDrainFailed = errors.New("retry: delivery failed, entry left queued")
	// ErrStopped is returned by Flush after Stop.
	ErrStopped = errors.New("retry: scheduler stopped")
)
