package batching

import (
	"fmt"
	"time"
)

// Defaults applied when the corresponding Options fields are unset.
const (
	defaultMaxBatchSize       = 8
	defaultMaxEnqueuedBatches = 16
	defaultNumWorkers         = 1
)

// Upper bounds. MaxBatchSize and MaxEnqueuedBatches size allocations made at
// Register and per batch.
const (
	MaxBatchSizeLimit       = 1 << 16
	MaxEnqueuedBatchesLimit = 1 << 16
	MaxNumWorkersLimit      = 1 << 10
)

// Options are the per-model batching tunables.
type Options struct {
	MaxBatchSize int
	// BatchTimeout is measured from the first task admitted into a batch.
	// Zero seals every batch right after its first task.
	BatchTimeout time.Duration
	// MaxEnqueuedBatches bounds open plus sealed-but-undispatched batches.
	MaxEnqueuedBatches int
	NumWorkers         int
	// EarlyCut seals a batch once no task has arrived for this long. Zero
	// disables the policy.
	EarlyCut time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxBatchSize == 0 {
		o.MaxBatchSize = defaultMaxBatchSize
	}
	if o.MaxEnqueuedBatches == 0 {
		o.MaxEnqueuedBatches = defaultMaxEnqueuedBatches
	}
	if o.NumWorkers == 0 {
		o.NumWorkers = defaultNumWorkers
	}
	return o
}

// Validate reports the first out-of-range field.
func (o Options) Validate() error {
	switch {
	case o.MaxBatchSize <= 0:
		return fmt.Errorf("max batch size must be > 0, got %d", o.MaxBatchSize)
	case o.MaxBatchSize > MaxBatchSizeLimit:
		return fmt.Errorf("max batch size must be <= %d, got %d", MaxBatchSizeLimit, o.MaxBatchSize)
	case o.BatchTimeout < 0:
		return fmt.Errorf("batch timeout must be >= 0, got %s", o.BatchTimeout)
	case o.MaxEnqueuedBatches <= 0:
		return fmt.Errorf("max enqueued batches must be > 0, got %d", o.MaxEnqueuedBatches)
	case o.MaxEnqueuedBatches > MaxEnqueuedBatchesLimit:
		return fmt.Errorf("max enqueued batches must be <= %d, got %d", MaxEnqueuedBatchesLimit, o.MaxEnqueuedBatches)
	case o.NumWorkers <= 0:
		return fmt.Errorf("num workers must be > 0, got %d", o.NumWorkers)
	case o.NumWorkers > MaxNumWorkersLimit:
		return fmt.Errorf("num workers must be <= %d, got %d", MaxNumWorkersLimit, o.NumWorkers)
	case o.EarlyCut < 0:
		return fmt.Errorf("early cut must be >= 0, got %s", o.EarlyCut)
	}
	return nil
}
