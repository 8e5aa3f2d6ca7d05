package batching

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type taskState int32

const (
	taskNew taskState = iota
	taskQueued
	taskSealed
	taskDone
)

// Task is one caller-submitted unit of work. Its completion fires exactly
// once, with either a result or an error.
type Task struct {
	ID          string
	Model       string
	Version     int64
	Payload     any
	SubmittedAt time.Time

	state atomic.Int32
	batch *Batch // guarded by the owning queue's lock until done

	once   sync.Once
	done   chan struct{}
	result any
	err    error
}

// NewTask returns a task targeting (model, version).
func NewTask(model string, version int64, payload any) *Task {
	return &Task{
		ID:      uuid.NewString(),
		Model:   model,
		Version: version,
		Payload: payload,
		done:    make(chan struct{}),
	}
}

// Done is closed once the task has a result or an error.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the outcome. Only meaningful after Done is closed.
func (t *Task) Result() (any, error) {
	select {
	case <-t.done:
		return t.result, t.err
	default:
		return nil, ErrTaskPending
	}
}

// Wait blocks until the task completes or ctx is done.
func (t *Task) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Batch returns the sealed batch the task was executed in, or nil if the task
// never made it into one (rejected or cancelled). Only meaningful after Done.
func (t *Task) Batch() *Batch {
	select {
	case <-t.done:
		return t.batch
	default:
		return nil
	}
}

// complete delivers the outcome. Later calls are no-ops.
func (t *Task) complete(result any, err error) bool {
	fired := false
	t.once.Do(func() {
		t.result, t.err = result, err
		t.state.Store(int32(taskDone))
		close(t.done)
		fired = true
	})
	return fired
}
