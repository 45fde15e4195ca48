// Package regerr declares the sentinel error kinds raised by the schema
// registry core. REST handlers map these to HTTP status codes with
// errors.Is instead of matching on error strings.
package regerr

import "errors"

var (
	// ErrUnknownTopicOrPartition is raised by read-sync when the log
	// reports that the internal topic does not exist or has an
	// unexpected partition layout.
	ErrUnknownTopicOrPartition = errors.New("unknown topic or partition")

	// ErrBackendError wraps any log operation that returned a non-success
	// error code. The core does not retry on this error.
	ErrBackendError = errors.New("backend error")

	// ErrNotFound is raised by Store lookups on a missing subject or
	// version.
	ErrNotFound = errors.New("not found")

	// ErrCompatibilityViolation is raised by the Store during
	// registration when a new schema fails the configured compatibility
	// check.
	ErrCompatibilityViolation = errors.New("compatibility violation")

	// ErrExhaustedRetries is raised when the optimistic write loop
	// collides with other writers more times than the retry budget
	// allows.
	ErrExhaustedRetries = errors.New("exhausted retries")

	// ErrAborted is raised when a suspension point observes the
	// process-wide abort signal.
	ErrAborted = errors.New("aborted")
)
