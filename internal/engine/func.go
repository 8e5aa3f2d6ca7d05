package engine

import (
	"context"
	"fmt"

	"servingd/internal/batching"
)

// PerTask adapts a single-payload function into a batch engine. The batch
// stays all-or-nothing: the first task error fails every task in it.
func PerTask(fn func(ctx context.Context, payload any) (any, error)) batching.Engine {
	return batching.EngineFunc(func(ctx context.Context, b *batching.Batch) ([]any, error) {
		tasks := b.Tasks()
		out := make([]any, len(tasks))
		for i, t := range tasks {
			r, err := fn(ctx, t.Payload)
			if err != nil {
				return nil, fmt.Errorf("task %d (%s): %w", i, t.ID, err)
			}
			out[i] = r
		}
		return out, nil
	})
}

// Static wraps a fixed engine as a Factory, for registering in-process
// backends that need no per-model construction.
func Static(e batching.Engine) Factory {
	return func(string, map[string]string) (batching.Engine, error) { return e, nil }
}
