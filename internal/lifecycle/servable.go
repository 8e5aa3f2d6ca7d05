package lifecycle

import (
	"context"
	"sync/atomic"
	"time"
)

// Handle is the backend-specific object a Source returns from Load. The core
// never looks inside it; engines type-assert it.
type Handle any

// Source is the model source collaborator. It is only ever called from the
// reconcile loop.
type Source interface {
	Load(ctx context.Context, model string, version int64) (Handle, error)
	Unload(ctx context.Context, model string, version int64, h Handle) error
}

// Servable is one loaded (model, version) bound to its backend handle.
type Servable struct {
	Model    string
	Version  int64
	Handle   Handle
	LoadedAt time.Time

	inflight atomic.Int64
}

// InFlight returns the number of batches currently referencing the servable.
func (s *Servable) InFlight() int64 { return s.inflight.Load() }
