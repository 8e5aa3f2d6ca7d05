package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"servingd/internal/worker"
)

// Manager owns the (model, version) → record map and drives reconciliation.
type Manager struct {
	cfg    Config
	source Source
	log    zerolog.Logger
	pub    EventPublisher

	mu      sync.RWMutex
	models  map[string]*modelRecord
	stopped bool

	kickCh chan struct{}
	loop   *worker.Worker
	ctx    context.Context
	cancel context.CancelFunc
	ops    sync.WaitGroup
}

type modelRecord struct {
	name     string
	opts     ModelOptions
	desired  map[int64]struct{}
	versions map[int64]*versionRecord
	// failed keeps the final load error of versions that are still aspired
	// but ran out of retries.
	failed map[int64]error
}

type versionRecord struct {
	version     int64
	state       State
	aspired     AspiredState
	servable    *Servable
	busy        bool // a load or unload is running
	attempts    int
	nextAttempt time.Time
	lastErr     error
}

func newVersionRecord(v int64) *versionRecord {
	return &versionRecord{version: v, state: StatePendingLoad, aspired: NewAspiredState()}
}

func (r *versionRecord) transition(to State) error {
	if !r.state.CanTransition(to) {
		return transitionError{version: r.version, from: r.state, to: to}
	}
	r.state = to
	return nil
}

func (r *versionRecord) available() bool {
	return r.state == StateLoaded && r.aspired.WasAspired() && r.servable != nil
}

// New constructs a Manager. The reconcile loop is not running until Start.
func New(cfg Config) (*Manager, error) {
	if cfg.Source == nil {
		return nil, errors.New("lifecycle: nil source")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = defaultMaxRetryBackoff
	}
	m := &Manager{
		cfg:    cfg,
		source: cfg.Source,
		log:    zerolog.Nop(),
		pub:    noopPublisher{},
		models: make(map[string]*modelRecord),
		kickCh: make(chan struct{}, 1),
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "lifecycle").Logger()
	}
	if cfg.Publisher != nil {
		m.pub = cfg.Publisher
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.loop = worker.New("reconcile", m.run)
	return m, nil
}

func (m *Manager) modelLocked(name string) *modelRecord {
	mr := m.models[name]
	if mr == nil {
		mr = &modelRecord{
			name:     name,
			opts:     m.cfg.optionsFor(name),
			desired:  make(map[int64]struct{}),
			versions: make(map[int64]*versionRecord),
			failed:   make(map[int64]error),
		}
		m.models[name] = mr
	}
	return mr
}

// SetAspiredVersions declares the desired version set for model. New versions
// are marked pending load; versions no longer listed are unaspired. The actual
// loads and unloads happen asynchronously in the reconcile loop.
func (m *Manager) SetAspiredVersions(model string, versions []int64) error {
	if model == "" {
		return errors.New("empty model name")
	}
	desired := make(map[int64]struct{}, len(versions))
	for _, v := range versions {
		if v <= 0 {
			return fmt.Errorf("invalid version %d for model %s", v, model)
		}
		desired[v] = struct{}{}
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrManagerStopped
	}
	mr := m.modelLocked(model)
	mr.desired = desired
	var added, unaspired []int64
	for v, r := range mr.versions {
		if _, ok := desired[v]; !ok && r.aspired.WasAspired() {
			r.aspired.Unaspire()
			unaspired = append(unaspired, v)
		}
	}
	for v := range mr.failed {
		if _, ok := desired[v]; !ok {
			delete(mr.failed, v)
		}
	}
	for v := range desired {
		if _, ok := mr.versions[v]; ok {
			continue
		}
		if _, ok := mr.failed[v]; ok {
			continue
		}
		mr.versions[v] = newVersionRecord(v)
		added = append(added, v)
	}
	m.mu.Unlock()

	sortVersions(added)
	sortVersions(unaspired)
	m.log.Info().Str("event", "aspired_set").Str("model", model).
		Ints64("aspired", sortedKeys(desired)).Ints64("added", added).Ints64("unaspired", unaspired).
		Msg("aspired versions updated")
	m.pub.Publish(Event{Name: "aspired_set", Model: model, Fields: map[string]any{"added": added, "unaspired": unaspired}})
	m.kick()
	return nil
}

// GetAvailableServable returns the loaded, aspired servable for (model,
// version) or a not-found error. Failed versions carry their load error.
func (m *Manager) GetAvailableServable(model string, version int64) (*Servable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.availableLocked(model, version)
}

func (m *Manager) availableLocked(model string, version int64) (*Servable, error) {
	mr := m.models[model]
	if mr == nil {
		return nil, ErrNotFound(model, version, nil)
	}
	if r := mr.versions[version]; r != nil {
		if r.available() {
			return r.servable, nil
		}
		return nil, ErrNotFound(model, version, r.lastErr)
	}
	if err := mr.failed[version]; err != nil {
		return nil, ErrNotFound(model, version, err)
	}
	return nil, ErrNotFound(model, version, nil)
}

// LatestVersion returns the highest version of model that is available.
func (m *Manager) LatestVersion(model string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mr := m.models[model]
	if mr == nil {
		return 0, ErrNotFound(model, 0, nil)
	}
	var best int64
	for v, r := range mr.versions {
		if r.available() && v > best {
			best = v
		}
	}
	if best == 0 {
		return 0, ErrNotFound(model, 0, nil)
	}
	return best, nil
}

// Acquire returns the available servable for (model, version) and increments
// its in-flight count. The check and the increment happen under the read lock,
// so a reconcile pass can never unload a servable between them. Every
// successful Acquire must be paired with Release.
func (m *Manager) Acquire(model string, version int64) (*Servable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, err := m.availableLocked(model, version)
	if err != nil {
		return nil, err
	}
	s.inflight.Add(1)
	return s, nil
}

// Release drops a reference taken by Acquire. When the last reference to an
// unaspired servable goes away the reconcile loop is kicked so the unload
// happens without waiting for the next tick.
func (m *Manager) Release(s *Servable) {
	n := s.inflight.Add(-1)
	if n < 0 {
		m.log.Error().Str("event", "release_underflow").Str("model", s.Model).Int64("version", s.Version).Msg("in-flight count below zero")
		s.inflight.Store(0)
		n = 0
	}
	if n == 0 {
		m.mu.RLock()
		var drained bool
		if mr := m.models[s.Model]; mr != nil {
			if r := mr.versions[s.Version]; r != nil && !r.aspired.WasAspired() {
				drained = true
			}
		}
		m.mu.RUnlock()
		if drained {
			m.kick()
		}
	}
}

// VersionState reports the lifecycle state of (model, version). Failed
// versions that remain aspired report StateFailed; evicted ones report false.
func (m *Manager) VersionState(model string, version int64) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mr := m.models[model]
	if mr == nil {
		return "", false
	}
	if r := mr.versions[version]; r != nil {
		return r.state, true
	}
	if _, ok := mr.failed[version]; ok {
		return StateFailed, true
	}
	return "", false
}

// Ready reports whether at least one servable is available.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mr := range m.models {
		for _, r := range mr.versions {
			if r.available() {
				return true
			}
		}
	}
	return false
}

// VersionStatus is a read-only view of one tracked version.
type VersionStatus struct {
	Version  int64
	State    State
	Aspired  bool
	InFlight int64
	Attempts int
	Error    string
}

// ModelStatus is a read-only view of one model's versions, sorted ascending.
type ModelStatus struct {
	Name     string
	Aspired  []int64
	Versions []VersionStatus
}

// Snapshot returns the state of every tracked model, sorted by name.
func (m *Manager) Snapshot() []ModelStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ModelStatus, 0, len(m.models))
	for _, mr := range m.models {
		ms := ModelStatus{Name: mr.name, Aspired: sortedKeys(mr.desired)}
		for _, r := range mr.versions {
			vs := VersionStatus{Version: r.version, State: r.state, Aspired: r.aspired.WasAspired(), Attempts: r.attempts}
			if r.servable != nil {
				vs.InFlight = r.servable.InFlight()
			}
			if r.lastErr != nil {
				vs.Error = r.lastErr.Error()
			}
			ms.Versions = append(ms.Versions, vs)
		}
		for v, err := range mr.failed {
			ms.Versions = append(ms.Versions, VersionStatus{Version: v, State: StateFailed, Aspired: true, Error: err.Error()})
		}
		sort.Slice(ms.Versions, func(i, j int) bool { return ms.Versions[i].Version < ms.Versions[j].Version })
		out = append(out, ms)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortVersions(vs []int64) {
	sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })
}

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sortVersions(out)
	return out
}
