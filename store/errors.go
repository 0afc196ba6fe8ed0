package store

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when a required input is nil or empty.
	ErrInvalidArgument = errors.New("openiddict: invalid argument")

	// ErrConcurrencyConflict is returned when an update carries a stale
	// concurrency token, or the entity no longer exists. Callers should
	// reload the entity and retry.
	ErrConcurrencyConflict = errors.New("openiddict: concurrency token mismatch")

	// ErrNotSupported is returned for operations the backing store cannot
	// serve: arbitrary predicate queries, and offset pagination without a
	// prior sequential page.
	ErrNotSupported = errors.New("openiddict: operation not supported")
)

// SetupError wraps a table creation or update failure during schema
// initialization. Setup failures are fatal at start-up.
type SetupError struct {
	Table string
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("openiddict: schema setup failed for table %q: %v", e.Table, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
