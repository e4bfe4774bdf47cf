package engine

import (
	"errors"
	"fmt"
	"strings"

	"edusched/src-server/conflict"
)

// ValidationError rejects malformed input before any write.
type ValidationError struct {
	Problems []string
	// Err is the underlying cause when there is one, e.g.
	// recurrence.ErrTooManyOccurrences.
	Err error
}

func (e *ValidationError) Error() string {
	return "invalid event: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SchedulingConflictError carries every ERROR conflict, plus the warnings
// found alongside them, so the caller can show all problems at once.
type SchedulingConflictError struct {
	Conflicts []conflict.Conflict
}

func (e *SchedulingConflictError) Error() string {
	errs := conflict.Errors(e.Conflicts)
	msgs := make([]string, 0, len(errs))
	for _, c := range errs {
		msgs = append(msgs, c.Message)
	}
	return fmt.Sprintf("%d scheduling conflict(s): %s", len(errs), strings.Join(msgs, "; "))
}

type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("event %s not found", e.ID)
}

// StoreError is a persistence failure. The operation it interrupted left no
// partial state behind.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// surface pulls a typed error back out of the wrapping a transaction adds;
// anything else becomes a StoreError.
func surface(op string, err error) error {
	var (
		validation *ValidationError
		conflicts  *SchedulingConflictError
		notFound   *NotFoundError
		storeErr   *StoreError
	)
	switch {
	case errors.As(err, &validation):
		return validation
	case errors.As(err, &conflicts):
		return conflicts
	case errors.As(err, &notFound):
		return notFound
	case errors.As(err, &storeErr):
		return storeErr
	default:
		return &StoreError{Op: op, Err: err}
	}
}

func invalid(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}
