package store

import "errors"

// These classify every guard failure the state machine can hit when it
// issues a conditional write. Callers (the HTTP layer, the scheduler SDK
// client) switch on them to decide retry vs. terminal failure.
var (
	// ErrStaleVersion means the row changed between read and write; the
	// caller should refetch and retry.
	ErrStaleVersion = errors.New("stale_version")
	// ErrWrongState means the row is not in the expected "from" queue; the
	// call is terminal.
	ErrWrongState = errors.New("wrong_state")
	// ErrNotFound means no row exists with that id; terminal.
	ErrNotFound = errors.New("not_found")
)
