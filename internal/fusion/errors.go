package fusion

import (
	"errors"
	"fmt"
)

var (
	ErrNoSignals     = errors.New("no signals")
	ErrWeightCount   = errors.New("weight count does not match signal count")
	ErrEmptyList     = errors.New("empty score list")
	ErrIDSetMismatch = errors.New("signal id sets differ")
	ErrDuplicateID   = errors.New("duplicate id in score list")
	ErrInvalidScore  = errors.New("score or weight is not a finite number")
	ErrNegativeRank  = errors.New("negative original rank")
	ErrInvalidK      = errors.New("rrf k must be positive")
	ErrUnknown       = errors.New("unknown fusion algorithm")
)

// ValidationError reports which input invariant broke. Signal is -1 when
// the problem is not tied to one signal list.
type ValidationError struct {
	Kind   error
	Signal int
	ID     string
	Reason string
}

func newValidationError(kind error, signal int, id, format string, args ...any) *ValidationError {
	return &ValidationError{
		Kind:   kind,
		Signal: signal,
		ID:     id,
		Reason: fmt.Sprintf(format, args...),
	}
}

func (e *ValidationError) Error() string {
	msg := "fusion: " + e.Kind.Error()
	if e.Signal >= 0 {
		msg += fmt.Sprintf(" (signal %d)", e.Signal)
	}
	if e.ID != "" {
		msg += fmt.Sprintf(" (id %q)", e.ID)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// LookupMismatchError is returned when a fused id has no entry in the
// reference list used to recover ground truth ranks.
type LookupMismatchError struct {
	ID string
}

func (e *LookupMismatchError) Error() string {
	return fmt.Sprintf("fusion: id %q not found in reference list", e.ID)
}
