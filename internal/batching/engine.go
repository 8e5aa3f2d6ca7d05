package batching

import (
	"context"
	"errors"
	"fmt"
)

// Engine executes a sealed batch on a backend. It returns exactly one result
// per task, in task order, or an error that fails the whole batch.
type Engine interface {
	Execute(ctx context.Context, b *Batch) ([]any, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, b *Batch) ([]any, error)

func (f EngineFunc) Execute(ctx context.Context, b *Batch) ([]any, error) { return f(ctx, b) }

// EngineError is delivered to every task of a batch the engine failed.
type EngineError struct {
	Model   string
	Version int64
	BatchID string
	Err     error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s:%d batch %s: %v", e.Model, e.Version, e.BatchID, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// IsEngineError reports whether err is, or wraps, an EngineError.
func IsEngineError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}
