package batching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"servingd/internal/lifecycle"
	"servingd/internal/worker"
)

// queue is the per-model batching state. open and enqueued are only touched
// under mu.
type queue struct {
	model  string
	opts   Options
	engine Engine
	s      *Scheduler
	log    zerolog.Logger

	mu       sync.Mutex
	open     map[int64]*Batch // one open batch per version
	enqueued int              // open + sealed but not yet picked up
	closed   bool

	// ready has capacity MaxEnqueuedBatches and enqueued never exceeds it,
	// so sends under mu never block.
	ready   chan *Batch
	workers *worker.Group
}

func newQueue(s *Scheduler, model string, opts Options, engine Engine) *queue {
	q := &queue{
		model:  model,
		opts:   opts,
		engine: engine,
		s:      s,
		log:    s.log.With().Str("model", model).Logger(),
		open:   make(map[int64]*Batch),
		ready:  make(chan *Batch, opts.MaxEnqueuedBatches),
	}
	q.workers = worker.NewGroup("batch-"+model, opts.NumWorkers, q.work)
	return q
}

func (q *queue) reject(t *Task, reason string, cause error) error {
	rejectionsTotal.WithLabelValues(q.model, reason).Inc()
	return rejectedError{model: q.model, version: t.Version, reason: reason, cause: cause}
}

func (q *queue) submit(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return q.reject(t, ReasonClosed, ErrSchedulerClosed)
	}
	if taskState(t.state.Load()) != taskNew {
		return ErrTaskNotQueued
	}
	now := time.Now()
	b := q.open[t.Version]
	if b != nil {
		// Re-check under the queue lock so a version unaspired since the
		// batch was opened never picks up new tasks.
		if _, err := q.s.servables.GetAvailableServable(q.model, t.Version); err != nil {
			return q.reject(t, ReasonUnavailable, err)
		}
	} else {
		if q.enqueued >= q.opts.MaxEnqueuedBatches {
			return q.reject(t, ReasonQueueFull, nil)
		}
		sv, err := q.s.servables.Acquire(q.model, t.Version)
		if err != nil {
			return q.reject(t, ReasonUnavailable, err)
		}
		b = newBatch(sv, now, q.opts.MaxBatchSize)
		q.open[t.Version] = b
		q.enqueued++
	}

	t.SubmittedAt = now
	t.batch = b
	t.state.Store(int32(taskQueued))
	b.tasks = append(b.tasks, t)

	switch {
	case len(b.tasks) >= q.opts.MaxBatchSize:
		q.sealLocked(b, SealFull)
	case q.opts.BatchTimeout == 0:
		q.sealLocked(b, SealTimeout)
	case len(b.tasks) == 1 || q.opts.EarlyCut > 0:
		q.armLocked(b, now)
	}
	return nil
}

// armLocked (re)starts the batch timer. Without early cut the timer is set once,
// at the batch timeout. With early cut each admission moves the deadline to
// now+EarlyCut unless the batch timeout comes first.
func (q *queue) armLocked(b *Batch, now time.Time) {
	deadline := b.createdAt.Add(q.opts.BatchTimeout)
	reason := SealTimeout
	if q.opts.EarlyCut > 0 {
		if idle := now.Add(q.opts.EarlyCut); idle.Before(deadline) {
			deadline, reason = idle, SealEarlyCut
		}
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(time.Until(deadline), func() { q.onTimer(b, gen, reason) })
}

func (q *queue) onTimer(b *Batch, gen uint64, reason SealReason) {
	q.mu.Lock()
	defer q.mu.Unlock()
	// A stale timer, or a batch another trigger already sealed.
	if b.sealed || b.gen != gen || q.open[b.Version()] != b {
		return
	}
	q.sealLocked(b, reason)
}

func (q *queue) sealLocked(b *Batch, reason SealReason) {
	b.sealed = true
	b.reason = reason
	b.sealedAt = time.Now()
	if b.timer != nil {
		b.timer.Stop()
	}
	delete(q.open, b.Version())
	for _, t := range b.tasks {
		t.state.Store(int32(taskSealed))
	}
	batchesTotal.WithLabelValues(q.model, string(reason)).Inc()
	batchSize.WithLabelValues(q.model).Observe(float64(len(b.tasks)))
	q.log.Debug().Str("event", "batch_sealed").Str("batch_id", b.id).Int64("version", b.Version()).
		Int("size", len(b.tasks)).Str("reason", string(reason)).Msg("batch sealed")
	q.s.pub.Publish(lifecycle.Event{Name: "batch_sealed", Model: q.model, Version: b.Version(),
		Fields: map[string]any{"batch_id": b.id, "size": len(b.tasks), "reason": string(reason)}})
	q.ready <- b
}

// cancel removes a still-queued task from its open batch.
func (q *queue) cancel(t *Task) error {
	q.mu.Lock()
	switch taskState(t.state.Load()) {
	case taskNew:
		q.mu.Unlock()
		return ErrTaskNotQueued
	case taskSealed:
		q.mu.Unlock()
		return ErrTaskSealed
	case taskDone:
		q.mu.Unlock()
		return ErrTaskDone
	}
	b := t.batch
	for i, x := range b.tasks {
		if x == t {
			b.tasks = append(b.tasks[:i], b.tasks[i+1:]...)
			break
		}
	}
	t.batch = nil
	t.complete(nil, context.Canceled)
	var release *lifecycle.Servable
	if len(b.tasks) == 0 {
		if b.timer != nil {
			b.timer.Stop()
		}
		b.sealed = true
		delete(q.open, b.Version())
		q.enqueued--
		release = b.servable
	}
	q.mu.Unlock()

	tasksTotal.WithLabelValues(q.model, "canceled").Inc()
	if release != nil {
		q.s.servables.Release(release)
	}
	return nil
}

// close cuts every open batch and stops accepting work. Workers drain what is
// left in ready and then exit.
func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, b := range q.open {
		q.sealLocked(b, SealCut)
	}
	close(q.ready)
	q.mu.Unlock()
	q.workers.Wait()
}

func (q *queue) stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := QueueStats{
		Model:        q.model,
		OpenBatches:  len(q.open),
		Enqueued:     q.enqueued,
		Workers:      q.workers.Size(),
		MaxBatchSize: q.opts.MaxBatchSize,
		MaxEnqueued:  q.opts.MaxEnqueuedBatches,
	}
	for _, b := range q.open {
		st.OpenTasks += len(b.tasks)
	}
	return st
}

func (q *queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-q.ready:
			if !ok {
				return
			}
			q.mu.Lock()
			q.enqueued--
			q.mu.Unlock()
			q.dispatch(ctx, b)
		}
	}
}

func (q *queue) dispatch(ctx context.Context, b *Batch) {
	start := time.Now()
	queueWaitSeconds.WithLabelValues(q.model).Observe(start.Sub(b.createdAt).Seconds())
	inflightBatches.WithLabelValues(q.model).Inc()
	defer inflightBatches.WithLabelValues(q.model).Dec()
	defer q.s.servables.Release(b.servable)

	results, err := q.execute(ctx, b)
	if err == nil && len(results) != len(b.tasks) {
		err = fmt.Errorf("engine returned %d results for %d tasks", len(results), len(b.tasks))
	}
	engineSeconds.WithLabelValues(q.model).Observe(time.Since(start).Seconds())

	if err != nil {
		eerr := &EngineError{Model: q.model, Version: b.Version(), BatchID: b.id, Err: err}
		for _, t := range b.tasks {
			t.complete(nil, eerr)
		}
		tasksTotal.WithLabelValues(q.model, "engine_error").Add(float64(len(b.tasks)))
		q.log.Warn().Str("event", "batch_failed").Str("batch_id", b.id).Int64("version", b.Version()).
			Int("size", len(b.tasks)).Err(err).Msg("engine failed batch")
		q.s.pub.Publish(lifecycle.Event{Name: "batch_failed", Model: q.model, Version: b.Version(),
			Fields: map[string]any{"batch_id": b.id, "size": len(b.tasks), "error": err.Error()}})
		return
	}
	for i, t := range b.tasks {
		t.complete(results[i], nil)
	}
	tasksTotal.WithLabelValues(q.model, "ok").Add(float64(len(b.tasks)))
	q.log.Debug().Str("event", "batch_done").Str("batch_id", b.id).Int64("version", b.Version()).
		Int("size", len(b.tasks)).Dur("dur", time.Since(start)).Msg("batch executed")
	q.s.pub.Publish(lifecycle.Event{Name: "batch_done", Model: q.model, Version: b.Version(),
		Fields: map[string]any{"batch_id": b.id, "size": len(b.tasks)}})
}

// execute runs the engine, converting a panic into an error.
func (q *queue) execute(ctx context.Context, b *Batch) (results []any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("engine panic: %v", p)
		}
	}()
	return q.engine.Execute(ctx, b)
}
