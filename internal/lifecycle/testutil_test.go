package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeSource is an in-memory Source. Loads of versions in failLoads return an
// error (up to the configured count, or forever when the count is negative).
type fakeSource struct {
	mu          sync.Mutex
	failLoads   map[int64]int
	failUnloads int
	gate        chan struct{} // when set, Load blocks until closed
	loads       []int64
	unloads     []int64
}

func newFakeSource() *fakeSource {
	return &fakeSource{failLoads: map[int64]int{}}
}

func (s *fakeSource) Load(ctx context.Context, model string, version int64) (Handle, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads = append(s.loads, version)
	if n, ok := s.failLoads[version]; ok && n != 0 {
		if n > 0 {
			s.failLoads[version] = n - 1
		}
		return nil, errors.New("disk on fire")
	}
	return fmt.Sprintf("%s:%d", model, version), nil
}

func (s *fakeSource) Unload(ctx context.Context, model string, version int64, h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUnloads > 0 {
		s.failUnloads--
		return errors.New("busy device")
	}
	s.unloads = append(s.unloads, version)
	return nil
}

func (s *fakeSource) loadCount(v int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.loads {
		if l == v {
			n++
		}
	}
	return n
}

func (s *fakeSource) unloaded(v int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.unloads {
		if u == v {
			return true
		}
	}
	return false
}

func newTestManager(t *testing.T, src Source, opts ModelOptions) *Manager {
	t.Helper()
	m, err := New(Config{
		Source:          src,
		Interval:        5 * time.Millisecond,
		DefaultOptions:  opts,
		MaxRetryBackoff: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitState(t *testing.T, m *Manager, model string, v int64, want State) {
	t.Helper()
	waitFor(t, fmt.Sprintf("%s:%d to reach %s", model, v, want), func() bool {
		s, ok := m.VersionState(model, v)
		return ok && s == want
	})
}

func waitGone(t *testing.T, m *Manager, model string, v int64) {
	t.Helper()
	waitFor(t, fmt.Sprintf("%s:%d to be evicted", model, v), func() bool {
		_, ok := m.VersionState(model, v)
		return !ok
	})
}
