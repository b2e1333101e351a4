package recorder

import "errors"

// Failure classes. Callers match them with errors.Is; the concrete error
// always wraps one of these with context.
var (
	// ErrTransport covers network failures, timeouts and unexpected HTTP statuses.
	ErrTransport = errors.New("transport error")
	// ErrUpstreamShape means the upstream answered with JSON we cannot use.
	ErrUpstreamShape = errors.New("unexpected upstream response")
	// ErrUpstreamAuth means the upstream rejected our credentials.
	ErrUpstreamAuth = errors.New("upstream auth failure")
	// ErrParse marks a single unusable record. It is never fatal to a batch.
	ErrParse = errors.New("unparseable record")
	// ErrStoreUnavailable means the store could not be reached after retries.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStoreWrite is a per-row insert failure other than the duplicate no-op.
	ErrStoreWrite = errors.New("store write failed")

	ErrInvalidRange = errors.New("invalid id range")
	ErrNotFound     = errors.New("session not found")
)
