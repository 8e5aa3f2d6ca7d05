package manager

import (
	"errors"
	"net/http"

	"servingd/internal/batching"
	"servingd/internal/lifecycle"
)

// modelNotFoundError is returned for models that are not configured.
type modelNotFoundError struct{ name string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.name }

// ErrModelNotFound returns an error for a model name that is not configured.
func ErrModelNotFound(name string) error { return modelNotFoundError{name: name} }

// IsModelNotFound reports whether err means the model or version cannot serve
// (return 404). Unavailable versions carry the lifecycle detail, e.g. the
// final load error of a failed version.
func IsModelNotFound(err error) bool {
	var nf modelNotFoundError
	return errors.As(err, &nf) || lifecycle.IsNotFound(err)
}

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	return batching.RejectReason(err) == batching.ReasonQueueFull
}

// IsUnavailable reports whether the server is shutting down (return 503).
func IsUnavailable(err error) bool {
	return batching.RejectReason(err) == batching.ReasonClosed || errors.Is(err, lifecycle.ErrManagerStopped)
}

// IsEngineFailure reports whether the engine failed the batch (return 502).
func IsEngineFailure(err error) bool {
	return batching.IsEngineError(err)
}

// badRequestError carries a client input problem; it satisfies httpapi.HTTPError.
type badRequestError struct{ msg string }

func (e badRequestError) Error() string   { return e.msg }
func (e badRequestError) StatusCode() int { return http.StatusBadRequest }
