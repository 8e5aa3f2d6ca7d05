package worker

import (
	"context"
	"fmt"
)

// Group is a fixed set of workers running the same function.
type Group struct {
	workers []*Worker
}

// NewGroup returns n workers named "<name>-<i>" that all run fn.
func NewGroup(name string, n int, fn Func) *Group {
	if n <= 0 {
		n = 1
	}
	g := &Group{workers: make([]*Worker, n)}
	for i := range g.workers {
		g.workers[i] = New(fmt.Sprintf("%s-%d", name, i), fn)
	}
	return g
}

// Size returns the number of workers in the group.
func (g *Group) Size() int { return len(g.workers) }

// Start starts every worker. On error the already started workers are stopped.
func (g *Group) Start(ctx context.Context) error {
	for i, w := range g.workers {
		if err := w.Start(ctx); err != nil {
			for _, prev := range g.workers[:i] {
				prev.Stop()
			}
			return err
		}
	}
	return nil
}

// Stop cancels all workers and waits for each of them.
func (g *Group) Stop() {
	for _, w := range g.workers {
		w.signal()
	}
	for _, w := range g.workers {
		w.Stop()
	}
}

// Wait joins every worker without cancelling.
func (g *Group) Wait() {
	for _, w := range g.workers {
		w.Wait()
	}
}
