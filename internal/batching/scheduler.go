package batching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"servingd/internal/lifecycle"
)

// Servables is the slice of the lifecycle manager the scheduler depends on.
type Servables interface {
	GetAvailableServable(model string, version int64) (*lifecycle.Servable, error)
	Acquire(model string, version int64) (*lifecycle.Servable, error)
	Release(s *lifecycle.Servable)
}

// Config encapsulates all tunables for Scheduler construction.
type Config struct {
	Servables Servables

	// Logger is optional; nil disables logging.
	Logger    *zerolog.Logger
	Publisher lifecycle.EventPublisher
}

// Scheduler owns one batching queue per registered model.
type Scheduler struct {
	servables Servables
	log       zerolog.Logger
	pub       lifecycle.EventPublisher

	mu     sync.RWMutex
	queues map[string]*queue
	closed bool
}

// QueueStats is a point-in-time view of one model's queue.
type QueueStats struct {
	Model        string
	OpenBatches  int
	OpenTasks    int
	Enqueued     int
	Workers      int
	MaxBatchSize int
	MaxEnqueued  int
}

type nopPublisher struct{}

func (nopPublisher) Publish(lifecycle.Event) {}

// New constructs a Scheduler with no registered models.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Servables == nil {
		return nil, errors.New("batching: nil servables")
	}
	s := &Scheduler{
		servables: cfg.Servables,
		log:       zerolog.Nop(),
		pub:       nopPublisher{},
		queues:    make(map[string]*queue),
	}
	if cfg.Logger != nil {
		s.log = cfg.Logger.With().Str("component", "batching").Logger()
	}
	if cfg.Publisher != nil {
		s.pub = cfg.Publisher
	}
	return s, nil
}

// Register creates the queue and worker pool for model.
func (s *Scheduler) Register(model string, opts Options, engine Engine) error {
	if model == "" {
		return errors.New("empty model name")
	}
	if engine == nil {
		return fmt.Errorf("model %s: nil engine", model)
	}
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("model %s: %w", model, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	if _, ok := s.queues[model]; ok {
		return fmt.Errorf("model %s already registered", model)
	}
	q := newQueue(s, model, opts, engine)
	if err := q.workers.Start(context.Background()); err != nil {
		return err
	}
	s.queues[model] = q
	s.log.Info().Str("event", "model_registered").Str("model", model).Int("max_batch_size", opts.MaxBatchSize).
		Dur("batch_timeout", opts.BatchTimeout).Int("max_enqueued_batches", opts.MaxEnqueuedBatches).
		Int("workers", opts.NumWorkers).Dur("early_cut", opts.EarlyCut).Msg("batching queue registered")
	return nil
}

func (s *Scheduler) queue(model string) (*queue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[model]
	return q, ok
}

// Submit admits t into the open batch for its (model, version), opening a new
// batch if needed. It never waits for batch execution.
func (s *Scheduler) Submit(t *Task) error {
	q, ok := s.queue(t.Model)
	if !ok {
		rejectionsTotal.WithLabelValues(t.Model, ReasonUnknownModel).Inc()
		return rejectedError{model: t.Model, version: t.Version, reason: ReasonUnknownModel,
			cause: lifecycle.ErrNotFound(t.Model, t.Version, nil)}
	}
	return q.submit(t)
}

// Cancel withdraws a task that is still waiting in an open batch and
// completes it with context.Canceled. Tasks in sealed batches cannot be
// cancelled and return ErrTaskSealed.
func (s *Scheduler) Cancel(t *Task) error {
	q, ok := s.queue(t.Model)
	if !ok {
		return ErrTaskNotQueued
	}
	return q.cancel(t)
}

// Close seals every open batch, waits for all queued batches to execute and
// stops the workers. Later submissions are rejected.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	queues := make([]*queue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.Unlock()
	for _, q := range queues {
		q.close()
	}
	s.log.Info().Str("event", "scheduler_closed").Int("queues", len(queues)).Msg("batching scheduler closed")
}

// Stats returns queue stats for model.
func (s *Scheduler) Stats(model string) (QueueStats, bool) {
	q, ok := s.queue(model)
	if !ok {
		return QueueStats{}, false
	}
	return q.stats(), true
}

// Models returns the registered model names, sorted.
func (s *Scheduler) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.queues))
	for name := range s.queues {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
