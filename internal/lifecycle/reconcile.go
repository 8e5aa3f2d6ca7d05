package lifecycle

import (
	"context"
	"fmt"
	"time"
)

type actionKind int

const (
	actionLoad actionKind = iota
	actionUnload
)

type action struct {
	kind     actionKind
	model    *modelRecord
	rec      *versionRecord
	servable *Servable // unload only
}

// Start launches the reconcile loop.
func (m *Manager) Start() error {
	return m.loop.Start(m.ctx)
}

// Stop halts the reconcile loop, cancels in-progress loads and unloads and
// waits for them to return. Loaded servables are left as they are; call
// Shutdown first to drain and unload them.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()
	m.loop.Stop()
	m.cancel()
	m.ops.Wait()
	m.log.Info().Str("event", "lifecycle_stopped").Msg("reconcile loop stopped")
}

// Shutdown unaspires every version and keeps reconciling until all records
// are evicted or ctx is done. In-flight batches are allowed to drain first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrManagerStopped
	}
	for _, mr := range m.models {
		mr.desired = make(map[int64]struct{})
		mr.failed = make(map[int64]error)
		for _, r := range mr.versions {
			r.aspired.Unaspire()
		}
	}
	m.mu.Unlock()
	m.log.Info().Str("event", "lifecycle_shutdown").Msg("unaspired all versions")

	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		m.ReconcileOnce()
		if m.tracked() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// tracked counts model records; a pass evicts a model once it has no versions.
func (m *Manager) tracked() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.models)
}

// kick requests a reconcile pass without blocking.
func (m *Manager) kick() {
	select {
	case m.kickCh <- struct{}{}:
	default:
	}
}

func (m *Manager) run(ctx context.Context) {
	m.log.Info().Str("event", "lifecycle_started").Dur("interval", m.cfg.Interval).Msg("reconcile loop started")
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.kickCh:
		}
		m.ReconcileOnce()
	}
}

// ReconcileOnce runs one reconcile pass and returns the number of load and
// unload actions it started. Actions run asynchronously; a slow or failing
// version never holds up the others.
func (m *Manager) ReconcileOnce() int {
	now := time.Now()
	var actions []action

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return 0
	}
	for name, mr := range m.models {
		for v := range mr.desired {
			if _, ok := mr.versions[v]; ok {
				continue
			}
			if _, ok := mr.failed[v]; ok {
				continue
			}
			mr.versions[v] = newVersionRecord(v)
		}
		for v, r := range mr.versions {
			if r.busy {
				continue
			}
			switch r.state {
			case StatePendingLoad:
				if !r.aspired.WasAspired() {
					// Never loaded, so nothing to unload.
					m.mustTransition(mr, r, StateFailed)
					delete(mr.versions, v)
					m.log.Info().Str("event", "load_abandoned").Str("model", name).Int64("version", v).Msg("version unaspired before load")
					continue
				}
				if now.Before(r.nextAttempt) {
					continue
				}
				r.busy = true
				actions = append(actions, action{kind: actionLoad, model: mr, rec: r})
			case StateLoaded:
				if r.aspired.WasAspired() {
					continue
				}
				m.mustTransition(mr, r, StatePendingUnload)
				m.log.Info().Str("event", "unload_pending").Str("model", name).Int64("version", v).
					Int64("inflight", r.servable.InFlight()).Msg("version pending unload")
				if a, ok := m.unloadActionLocked(mr, r); ok {
					actions = append(actions, a)
				}
			case StatePendingUnload:
				if a, ok := m.unloadActionLocked(mr, r); ok {
					actions = append(actions, a)
				}
			}
		}
		if len(mr.versions) == 0 && len(mr.desired) == 0 && len(mr.failed) == 0 {
			delete(m.models, name)
		}
		m.recordGaugesLocked(mr)
	}
	// Add under the lock so Stop's Wait never races a late Add.
	m.ops.Add(len(actions))
	m.mu.Unlock()

	for _, a := range actions {
		switch a.kind {
		case actionLoad:
			go m.load(a)
		case actionUnload:
			go m.unload(a)
		}
	}
	return len(actions)
}

// unloadActionLocked returns an unload action once r has no in-flight batches.
func (m *Manager) unloadActionLocked(mr *modelRecord, r *versionRecord) (action, bool) {
	if r.servable.InFlight() > 0 {
		return action{}, false
	}
	r.busy = true
	return action{kind: actionUnload, model: mr, rec: r, servable: r.servable}, true
}

func (m *Manager) mustTransition(mr *modelRecord, r *versionRecord, to State) {
	if err := r.transition(to); err != nil {
		m.log.Error().Str("event", "illegal_transition").Str("model", mr.name).Err(err).Msg("state machine violation")
	}
}

func (m *Manager) recordGaugesLocked(mr *modelRecord) {
	counts := make(map[State]int, len(allStates))
	for _, r := range mr.versions {
		counts[r.state]++
	}
	counts[StateFailed] += len(mr.failed)
	for _, s := range allStates {
		versionsGauge.WithLabelValues(mr.name, string(s)).Set(float64(counts[s]))
	}
}

func (m *Manager) load(a action) {
	defer m.ops.Done()
	model, v := a.model.name, a.rec.version
	start := time.Now()
	m.log.Debug().Str("event", "load_start").Str("model", model).Int64("version", v).Int("attempt", a.rec.attempts+1).Msg("loading servable")
	m.pub.Publish(Event{Name: "load_start", Model: model, Version: v})

	h, err := m.safeLoad(model, v)

	m.mu.Lock()
	r := a.rec
	r.busy = false
	if err == nil {
		r.servable = &Servable{Model: model, Version: v, Handle: h, LoadedAt: time.Now()}
		m.mustTransition(a.model, r, StateLoaded)
		r.attempts = 0
		r.lastErr = nil
		r.nextAttempt = time.Time{}
		m.mu.Unlock()
		loadsTotal.WithLabelValues(model, "ok").Inc()
		m.log.Info().Str("event", "load_done").Str("model", model).Int64("version", v).Dur("dur", time.Since(start)).Msg("servable loaded")
		m.pub.Publish(Event{Name: "load_done", Model: model, Version: v})
		m.kick()
		return
	}

	r.attempts++
	lerr := &LoadError{Model: model, Version: v, Attempts: r.attempts, Err: err}
	r.lastErr = lerr
	opts := a.model.opts
	if r.attempts > opts.MaxLoadRetries {
		m.mustTransition(a.model, r, StateFailed)
		if a.model.versions[v] == r {
			delete(a.model.versions, v)
		}
		if r.aspired.WasAspired() {
			a.model.failed[v] = lerr
		}
		m.mu.Unlock()
		loadsTotal.WithLabelValues(model, "failed").Inc()
		m.log.Error().Str("event", "load_failed").Str("model", model).Int64("version", v).Int("attempts", lerr.Attempts).Err(err).Msg("servable permanently failed")
		m.pub.Publish(Event{Name: "load_failed", Model: model, Version: v, Fields: map[string]any{"error": lerr.Error(), "attempts": lerr.Attempts}})
		return
	}
	backoff := m.backoff(opts, r.attempts)
	r.nextAttempt = time.Now().Add(backoff)
	m.mu.Unlock()
	loadsTotal.WithLabelValues(model, "error").Inc()
	m.log.Warn().Str("event", "load_error").Str("model", model).Int64("version", v).Int("attempt", lerr.Attempts).Dur("retry_in", backoff).Err(err).Msg("servable load failed, will retry")
	m.pub.Publish(Event{Name: "load_error", Model: model, Version: v, Fields: map[string]any{"error": err.Error(), "attempt": lerr.Attempts}})
	time.AfterFunc(backoff, m.kick)
}

// safeLoad calls Source.Load, converting a panic into an error.
func (m *Manager) safeLoad(model string, v int64) (h Handle, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("load panic: %v", p)
		}
	}()
	return m.source.Load(m.ctx, model, v)
}

func (m *Manager) backoff(opts ModelOptions, attempts int) time.Duration {
	d := opts.RetryBackoff
	for i := 1; i < attempts && d < m.cfg.MaxRetryBackoff; i++ {
		d *= 2
	}
	return min(d, m.cfg.MaxRetryBackoff)
}

func (m *Manager) unload(a action) {
	defer m.ops.Done()
	model, v := a.model.name, a.rec.version
	m.log.Debug().Str("event", "unload_start").Str("model", model).Int64("version", v).Msg("unloading servable")
	m.pub.Publish(Event{Name: "unload_start", Model: model, Version: v})

	err := m.safeUnload(model, v, a.servable.Handle)

	m.mu.Lock()
	r := a.rec
	r.busy = false
	if err != nil {
		m.mu.Unlock()
		unloadsTotal.WithLabelValues(model, "error").Inc()
		m.log.Warn().Str("event", "unload_error").Str("model", model).Int64("version", v).Err(err).Msg("servable unload failed, will retry")
		m.pub.Publish(Event{Name: "unload_error", Model: model, Version: v, Fields: map[string]any{"error": err.Error()}})
		return
	}
	m.mustTransition(a.model, r, StateRemoved)
	if a.model.versions[v] == r {
		delete(a.model.versions, v)
	}
	_, again := a.model.desired[v]
	m.mu.Unlock()
	unloadsTotal.WithLabelValues(model, "ok").Inc()
	m.log.Info().Str("event", "unload_done").Str("model", model).Int64("version", v).Msg("servable unloaded")
	m.pub.Publish(Event{Name: "unload_done", Model: model, Version: v})
	m.pub.Publish(Event{Name: "version_removed", Model: model, Version: v})
	if again {
		m.kick()
	}
}

func (m *Manager) safeUnload(model string, v int64, h Handle) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unload panic: %v", p)
		}
	}()
	return m.source.Unload(m.ctx, model, v, h)
}
