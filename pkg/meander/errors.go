package meander

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed request parameters or a target at or
	// before the forecast epoch. No partial work is performed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotComputed is returned when an attribution is requested before
	// the corresponding forecast run exists.
	ErrNotComputed = errors.New("forecast not computed")

	// ErrCacheOverwrite marks an attempt to overwrite an existing cached
	// run. Runs are write-once; hitting this is a programming error, not a
	// user-facing condition.
	ErrCacheOverwrite = errors.New("forecast run already cached")

	// ErrRunNotFound is returned by a RunStore when no run exists under
	// the requested key.
	ErrRunNotFound = errors.New("forecast run not found")

	// ErrNoHistory is returned for a historical lookup with no recorded
	// observation.
	ErrNoHistory = errors.New("no historical record")
)

// ComputationError wraps a failure inside a forward pass. The whole run is
// discarded and nothing is cached when one occurs.
type ComputationError struct {
	Step int
	Err  error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("forward pass failed at step %d: %v", e.Step, e.Err)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}
