package lifecycle

import (
	"errors"
	"fmt"
)

// ErrManagerStopped is returned by operations on a stopped Manager.
var ErrManagerStopped = errors.New("lifecycle manager stopped")

// notFoundError signals that no loaded, aspired servable matches the request.
// cause carries the load failure for versions that are permanently failed.
type notFoundError struct {
	model   string
	version int64
	cause   error
}

func (e notFoundError) Error() string {
	var msg string
	if e.version > 0 {
		msg = fmt.Sprintf("servable not found: %s:%d", e.model, e.version)
	} else {
		msg = fmt.Sprintf("servable not found: %s", e.model)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e notFoundError) Unwrap() error { return e.cause }

// ErrNotFound builds a not-found error for (model, version). Pass version 0 when
// no specific version was requested.
func ErrNotFound(model string, version int64, cause error) error {
	return notFoundError{model: model, version: version, cause: cause}
}

// IsNotFound reports whether err (or anything it wraps) is a not-found error.
func IsNotFound(err error) bool {
	var nf notFoundError
	return errors.As(err, &nf)
}

// LoadError wraps a failure returned by Source.Load.
type LoadError struct {
	Model    string
	Version  int64
	Attempts int
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s:%d failed after %d attempt(s): %v", e.Model, e.Version, e.Attempts, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// transitionError reports an illegal state edge.
type transitionError struct {
	version  int64
	from, to State
}

func (e transitionError) Error() string {
	return fmt.Sprintf("version %d: illegal transition %s -> %s", e.version, e.from, e.to)
}
