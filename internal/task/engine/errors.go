package engine

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrStopped  = errors.New("task engine stopped")
	ErrStopping = errors.New("task engine stopping")
	ErrInvalid  = errors.New("invalid task")
)

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
