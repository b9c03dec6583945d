package domain

import "errors"

var (
	// ErrUnauthorized is returned when the caller identity is missing or the
	// caller does not belong to an organization.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the caller lacks the role an action requires.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned for issues, sprints and projects that do not exist
	// or belong to another organization.
	ErrNotFound = errors.New("not found")
	// ErrPreconditionFailed is returned when a sprint transition guard or the
	// board mutation gate rejects an operation.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation error")
	// ErrStorage wraps failures of the persistence layer, including batch
	// writes that did not commit.
	ErrStorage = errors.New("storage failure")
	// ErrConcurrencyConflict indicates that the underlying storage rejected a
	// conditional write because the record changed after it was read.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// IsKnown reports whether err already carries one of the domain error kinds.
func IsKnown(err error) bool {
	for _, k := range []error{ErrUnauthorized, ErrForbidden, ErrNotFound, ErrPreconditionFailed, ErrValidation, ErrStorage, ErrConcurrencyConflict} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
