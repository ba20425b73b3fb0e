package types

import "errors"

// Error categories. Package-level sentinels wrap one of these so callers
// can branch with errors.Is regardless of which layer produced the error.
var (
	// ErrInvalidInput is returned for malformed identifiers, sizes or
	// arguments. Nothing has been mutated when it is returned.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned for unknown status lists, anchors or DIDs.
	ErrNotFound = errors.New("not found")

	// ErrState is returned when an operation conflicts with current state,
	// e.g. a full status list or a delegation cycle.
	ErrState = errors.New("invalid state")
)
