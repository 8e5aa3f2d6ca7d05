// Package worker provides a joinable unit of background execution.
//
// A Worker runs a single function on its own goroutine. Stop cancels the
// function's context and blocks until it returns, so a stopped worker never
// outlives its owner. Wait joins without cancelling, for workers that exit on
// their own (e.g. after draining a closed channel).
package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyStarted is returned when Start is called more than once.
var ErrAlreadyStarted = errors.New("worker already started")

// Func is the body of a Worker. It must return once ctx is done.
type Func func(ctx context.Context)

// Worker is a start-once, stop-and-wait goroutine.
type Worker struct {
	name string
	fn   Func

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a Worker that will run fn when started.
func New(name string, fn Func) *Worker {
	return &Worker{name: name, fn: fn, done: make(chan struct{})}
}

// Name returns the worker name given to New.
func (w *Worker) Name() string { return w.name }

// Start launches the worker goroutine with a context derived from parent.
func (w *Worker) Start(parent context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	w.started = true
	w.cancel = cancel
	go func() {
		defer close(w.done)
		defer cancel()
		w.fn(ctx)
	}()
	return nil
}

// Stop cancels the worker and waits for it to return. Stop on a worker that
// was never started returns immediately. Safe to call more than once.
func (w *Worker) Stop() {
	if !w.signal() {
		return
	}
	<-w.done
}

// signal cancels the worker context without waiting. Reports whether the
// worker was started.
func (w *Worker) signal() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return false
	}
	w.cancel()
	return true
}

// Wait blocks until the worker function returns, without cancelling it.
func (w *Worker) Wait() {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return
	}
	<-w.done
}

// Done is closed when the worker function has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }
