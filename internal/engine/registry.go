// Package engine holds the registry of execution engine factories and the
// reference engines shipped with servingd. Concrete compute backends plug in
// by registering a Factory under their type name.
package engine

import (
	"fmt"
	"sort"
	"sync"

	"servingd/internal/batching"
)

// Factory builds the engine serving one model. params come from the model's
// engine_params config block.
type Factory func(model string, params map[string]string) (batching.Engine, error)

// Registry maps engine type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default returns a registry with the built-in engines registered.
func Default() *Registry {
	r := NewRegistry()
	_ = r.Register(EchoName, NewEcho)
	return r
}

// Register adds a factory. Names must be unique.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("engine: invalid registration %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("engine %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// New builds the engine registered under name for model.
func (r *Registry) New(name, model string, params map[string]string) (batching.Engine, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown engine %q for model %s", name, model)
	}
	e, err := f(model, params)
	if err != nil {
		return nil, fmt.Errorf("engine %s for model %s: %w", name, model, err)
	}
	return e, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered engine names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
