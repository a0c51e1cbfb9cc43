package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrClosed    = errors.New("scheduler closed")
	ErrStopped   = errors.New("scheduler stopped")
	ErrNoBackend = errors.New("scheduler backend is nil")
	ErrNoEvent   = errors.New("scheduler event is nil")

	ErrInvalidEvent = errors.New("invalid scheduler event")
)

// CallbackError reports a callback that failed while dispatching an entry.
type CallbackError struct {
	Callback string
	Entry    Entry
	Err      error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback %q failed for %s: %v", e.Callback, e.Entry, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }
