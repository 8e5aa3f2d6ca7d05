package batching

import (
	"time"

	"github.com/google/uuid"

	"servingd/internal/lifecycle"
)

// SealReason names the trigger that sealed a batch.
type SealReason string

const (
	SealFull     SealReason = "full"
	SealTimeout  SealReason = "timeout"
	SealEarlyCut SealReason = "early_cut"
	SealCut      SealReason = "cut"
)

// Batch is an ordered group of tasks for one servable. It is append-only
// while open and immutable once sealed; engines only ever see sealed batches.
type Batch struct {
	id        string
	servable  *lifecycle.Servable
	tasks     []*Task
	createdAt time.Time
	sealedAt  time.Time
	reason    SealReason
	sealed    bool

	timer *time.Timer
	gen   uint64
}

func newBatch(s *lifecycle.Servable, now time.Time, capacity int) *Batch {
	return &Batch{
		id:        uuid.NewString(),
		servable:  s,
		tasks:     make([]*Task, 0, capacity),
		createdAt: now,
	}
}

func (b *Batch) ID() string                    { return b.id }
func (b *Batch) Model() string                 { return b.servable.Model }
func (b *Batch) Version() int64                { return b.servable.Version }
func (b *Batch) Servable() *lifecycle.Servable { return b.servable }
func (b *Batch) Size() int                     { return len(b.tasks) }
func (b *Batch) CreatedAt() time.Time          { return b.createdAt }
func (b *Batch) SealedAt() time.Time           { return b.sealedAt }
func (b *Batch) SealReason() SealReason        { return b.reason }

// Tasks returns the tasks in submission order.
func (b *Batch) Tasks() []*Task {
	out := make([]*Task, len(b.tasks))
	copy(out, b.tasks)
	return out
}

// Payloads returns the task payloads in submission order.
func (b *Batch) Payloads() []any {
	out := make([]any, len(b.tasks))
	for i, t := range b.tasks {
		out[i] = t.Payload
	}
	return out
}
