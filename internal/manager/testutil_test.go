package manager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"servingd/internal/config"
	"servingd/internal/engine"
	"servingd/internal/lifecycle"
)

// memSource loads any version listed in versions.
type memSource struct {
	mu       sync.Mutex
	versions map[string]map[int64]bool
	loaded   map[string]bool
}

func newMemSource(model string, versions ...int64) *memSource {
	s := &memSource{versions: map[string]map[int64]bool{}, loaded: map[string]bool{}}
	s.versions[model] = map[int64]bool{}
	for _, v := range versions {
		s.versions[model][v] = true
	}
	return s
}

func (s *memSource) Load(ctx context.Context, model string, v int64) (lifecycle.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.versions[model][v] {
		return nil, fmt.Errorf("no such version %s/%d", model, v)
	}
	s.loaded[fmt.Sprintf("%s/%d", model, v)] = true
	return v, nil
}

func (s *memSource) Unload(ctx context.Context, model string, v int64, h lifecycle.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loaded, fmt.Sprintf("%s/%d", model, v))
	return nil
}

func (s *memSource) loadedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loaded)
}

func modelConfig(name string, versions []int64, mut func(*config.ModelConfig)) config.ModelConfig {
	mc := config.ModelConfig{Name: name, Versions: versions}
	if mut != nil {
		mut(&mc)
	}
	mc.ApplyDefaults()
	return mc
}

func newTestManager(t *testing.T, src lifecycle.Source, engines *engine.Registry, models ...config.ModelConfig) *Manager {
	t.Helper()
	m, err := NewWithConfig(ManagerConfig{
		Models:            models,
		Source:            src,
		Engines:           engines,
		ReconcileInterval: 5 * time.Millisecond,
		MaxRetryBackoff:   20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

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

func waitLoaded(t *testing.T, m *Manager, model string, v int64) {
	t.Helper()
	waitFor(t, fmt.Sprintf("%s:%d loaded", model, v), func() bool {
		_, err := m.lc.GetAvailableServable(model, v)
		return err == nil
	})
}
