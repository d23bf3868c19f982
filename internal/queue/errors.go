package queue

import (
	"errors"
	"fmt"
)

// invalidModelError is returned by Enqueue for ids absent from the registry.
type invalidModelError struct{ id string }

func (e invalidModelError) Error() string { return "Invalid model selected: " + e.id }

// ErrInvalidModel constructs an invalidModelError.
func ErrInvalidModel(id string) error { return invalidModelError{id: id} }

// IsInvalidModel reports whether err indicates an unknown model id (404).
func IsInvalidModel(err error) bool {
	var e invalidModelError
	return errors.As(err, &e)
}

// queueFullError signals that the pending bound was reached (429).
type queueFullError struct{ max int }

func (e queueFullError) Error() string {
	return fmt.Sprintf("Queue is full. Maximum %d pending requests allowed.", e.max)
}

// ErrQueueFull constructs a queueFullError.
func ErrQueueFull(max int) error { return queueFullError{max: max} }

// IsQueueFull reports whether err indicates backpressure.
func IsQueueFull(err error) bool {
	var e queueFullError
	return errors.As(err, &e)
}

// invalidParamsError wraps a parameter schema violation (400).
type invalidParamsError struct{ err error }

func (e invalidParamsError) Error() string { return e.err.Error() }

func (e invalidParamsError) Unwrap() error { return e.err }

// ErrInvalidParams wraps err as an invalidParamsError.
func ErrInvalidParams(err error) error { return invalidParamsError{err: err} }

// IsInvalidParams reports whether err indicates rejected parameters.
func IsInvalidParams(err error) bool {
	var e invalidParamsError
	return errors.As(err, &e)
}

// requestNotFoundError is returned for unknown job ids.
type requestNotFoundError struct{ id string }

func (e requestNotFoundError) Error() string { return "request not found: " + e.id }

// ErrRequestNotFound constructs a requestNotFoundError.
func ErrRequestNotFound(id string) error { return requestNotFoundError{id: id} }

// IsRequestNotFound reports whether err indicates an unknown job id.
func IsRequestNotFound(err error) bool {
	var e requestNotFoundError
	return errors.As(err, &e)
}
