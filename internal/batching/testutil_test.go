package batching

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"servingd/internal/lifecycle"
)

// fakeServables serves every version listed in available.
type fakeServables struct {
	mu        sync.Mutex
	servables map[string]*lifecycle.Servable
	available map[string]bool
	acquired  int
	released  int
}

func newFakeServables(keys ...string) *fakeServables {
	f := &fakeServables{servables: map[string]*lifecycle.Servable{}, available: map[string]bool{}}
	for _, k := range keys {
		var model string
		var v int64
		fmt.Sscanf(k, "%s %d", &model, &v)
		f.servables[key(model, v)] = &lifecycle.Servable{Model: model, Version: v}
		f.available[key(model, v)] = true
	}
	return f
}

func key(model string, v int64) string { return fmt.Sprintf("%s:%d", model, v) }

func (f *fakeServables) GetAvailableServable(model string, v int64) (*lifecycle.Servable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.available[key(model, v)] {
		return nil, lifecycle.ErrNotFound(model, v, nil)
	}
	return f.servables[key(model, v)], nil
}

func (f *fakeServables) Acquire(model string, v int64) (*lifecycle.Servable, error) {
	s, err := f.GetAvailableServable(model, v)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.acquired++
	f.mu.Unlock()
	return s, nil
}

func (f *fakeServables) Release(s *lifecycle.Servable) {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
}

func (f *fakeServables) setAvailable(model string, v int64, ok bool) {
	f.mu.Lock()
	f.available[key(model, v)] = ok
	f.mu.Unlock()
}

func (f *fakeServables) refs() (acquired, released int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired, f.released
}

// recordingEngine echoes payloads and records every batch it sees.
type recordingEngine struct {
	mu      sync.Mutex
	batches []*Batch
	err     error
	gate    chan struct{}
}

func (e *recordingEngine) Execute(ctx context.Context, b *Batch) ([]any, error) {
	if e.gate != nil {
		<-e.gate
	}
	e.mu.Lock()
	e.batches = append(e.batches, b)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return b.Payloads(), nil
}

func (e *recordingEngine) seen() []*Batch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Batch(nil), e.batches...)
}

func newTestScheduler(t *testing.T, sv Servables) *Scheduler {
	t.Helper()
	s, err := New(Config{Servables: sv})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func mustSubmit(t *testing.T, s *Scheduler, task *Task) {
	t.Helper()
	if err := s.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func waitDone(t *testing.T, task *Task) (any, error) {
	t.Helper()
	select {
	case <-task.Done():
		return task.Result()
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s did not complete", task.ID)
		return nil, nil
	}
}
