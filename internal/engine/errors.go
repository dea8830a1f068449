package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Submit once Shutdown has begun.
	ErrClosed = errors.New("worker is shut down")

	// ErrNotSync is returned by Wait on an Op created without a completion signal.
	ErrNotSync = errors.New("op has no completion signal")

	// ErrAlreadySubmitted is returned when the same Op is submitted twice.
	ErrAlreadySubmitted = errors.New("op already submitted")

	// ErrNoOperation is returned when an Op carries no Operation.
	ErrNoOperation = errors.New("op has no operation")
)

// ExecError reports a statement that failed on the worker.
//
// The underlying driver error is kept in Err, so errors.Is and errors.As see
// through ExecError to it.
type ExecError struct {
	OpID string
	Seq  int64
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return fmt.Sprintf("%s op %s (seq=%d): %v", e.Kind, e.OpID, e.Seq, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// PanicError carries a value recovered from a panic during execution.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during execution: %v", e.Value)
}

// IsExecError returns true if err is, or wraps, an ExecError.
// Uses errors.As to handle wrapped errors.
func IsExecError(err error) bool {
	var ee *ExecError
	return errors.As(err, &ee)
}
