package worktable

import (
	"errors"
	"fmt"
)

// Error taxonomy, per spec.md §7. PageIsFull is recovered internally by the
// pages package by allocating a new page; it reaches a WorkTable caller,
// wrapped in PagesError, only when a row does not fit even an empty page.
// InvalidLink indicates
// a bug (a stale or foreign link reaching a table operation) rather than a
// user-facing condition, but is still exported so callers can detect it.
var (
	// ErrNotFound is returned when a key is absent from the relevant index
	// on a required lookup, e.g. Select or SelectByNonUnique against an
	// empty bucket.
	ErrNotFound = errors.New("worktable: not found")

	// ErrAlreadyExists is returned on a unique-constraint violation: a
	// duplicate primary key or a duplicate unique secondary key.
	ErrAlreadyExists = errors.New("worktable: already exists")

	// ErrSerialize and ErrDeserialize wrap codec failures.
	ErrSerialize   = errors.New("worktable: serialize error")
	ErrDeserialize = errors.New("worktable: deserialize error")
)

// PagesError wraps a failure surfaced by the pages package (page.FullError
// after exhausting retries, or page.InvalidLinkError), aggregating it into
// the single per-operation error union WorkTable callers see.
type PagesError struct {
	Err error
}

func (e *PagesError) Error() string { return fmt.Sprintf("worktable: pages error: %v", e.Err) }
func (e *PagesError) Unwrap() error { return e.Err }

func wrapPagesError(err error) error {
	if err == nil {
		return nil
	}
	return &PagesError{Err: err}
}
