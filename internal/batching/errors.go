package batching

import (
	"errors"
	"fmt"
)

var (
	ErrSchedulerClosed = errors.New("scheduler closed")

	// ErrTaskSealed is returned when cancelling a task whose batch is sealed.
	ErrTaskSealed  = errors.New("task already sealed into a batch")
	ErrTaskDone    = errors.New("task already completed")
	ErrTaskPending = errors.New("task not completed")

	// ErrTaskNotQueued is returned for tasks that were never submitted, or
	// submitted twice.
	ErrTaskNotQueued = errors.New("task not queued")
)

// Rejection reasons.
const (
	ReasonUnavailable  = "unavailable"
	ReasonQueueFull    = "queue_full"
	ReasonClosed       = "closed"
	ReasonUnknownModel = "unknown_model"
)

// rejectedError signals submission-time backpressure or an unavailable target.
type rejectedError struct {
	model   string
	version int64
	reason  string
	cause   error
}

func (e rejectedError) Error() string {
	msg := fmt.Sprintf("rejected %s:%d: %s", e.model, e.version, e.reason)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e rejectedError) Unwrap() error { return e.cause }

// IsRejected reports whether err is a submission rejection.
func IsRejected(err error) bool {
	var re rejectedError
	return errors.As(err, &re)
}

// RejectReason returns the rejection reason, or "" if err is not a rejection.
func RejectReason(err error) string {
	var re rejectedError
	if errors.As(err, &re) {
		return re.reason
	}
	return ""
}
