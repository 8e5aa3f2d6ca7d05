package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"servingd/internal/batching"
	"servingd/internal/config"
	"servingd/internal/engine"
	"servingd/internal/lifecycle"
)

// Manager coordinates model versions and batched inference.
type Manager struct {
	log    zerolog.Logger
	models map[string]config.ModelConfig
	order  []string // config order, for listing

	lc    *lifecycle.Manager
	sched *batching.Scheduler

	startTime   time.Time
	inferTotal  atomic.Uint64
	inferErrors atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// NewWithConfig constructs a Manager from ManagerConfig. Every model gets a
// batching queue and an engine; nothing is loaded until Start.
func NewWithConfig(cfg ManagerConfig) (*Manager, error) {
	if cfg.Source == nil {
		return nil, errors.New("manager: nil source")
	}
	engines := cfg.Engines
	if engines == nil {
		engines = engine.Default()
	}
	m := &Manager{
		log:       zerolog.Nop(),
		models:    make(map[string]config.ModelConfig, len(cfg.Models)),
		startTime: time.Now(),
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	}

	opts := make(map[string]lifecycle.ModelOptions, len(cfg.Models))
	for _, mc := range cfg.Models {
		if _, dup := m.models[mc.Name]; dup {
			return nil, fmt.Errorf("duplicate model %s", mc.Name)
		}
		m.models[mc.Name] = mc
		m.order = append(m.order, mc.Name)
		opts[mc.Name] = mc.LifecycleOptions()
	}

	lc, err := lifecycle.New(lifecycle.Config{
		Source:          cfg.Source,
		Interval:        cfg.ReconcileInterval,
		Logger:          cfg.Logger,
		Publisher:       cfg.Publisher,
		Models:          opts,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	})
	if err != nil {
		return nil, err
	}
	sched, err := batching.New(batching.Config{Servables: lc, Logger: cfg.Logger, Publisher: cfg.Publisher})
	if err != nil {
		return nil, err
	}
	for _, name := range m.order {
		mc := m.models[name]
		eng, err := engines.New(mc.Engine, name, mc.EngineParams)
		if err != nil {
			sched.Close()
			return nil, err
		}
		if err := sched.Register(name, mc.BatchingOptions(), eng); err != nil {
			sched.Close()
			return nil, err
		}
	}
	m.lc, m.sched = lc, sched
	return m, nil
}

// Start launches the reconcile loop and applies the static version sets.
// Models without static versions wait for SetAspiredVersions, usually from
// the directory watcher.
func (m *Manager) Start() error {
	if err := m.lc.Start(); err != nil {
		return err
	}
	for _, name := range m.order {
		mc := m.models[name]
		if len(mc.Versions) == 0 {
			continue
		}
		if err := m.lc.SetAspiredVersions(name, mc.Versions); err != nil {
			return fmt.Errorf("model %s: %w", name, err)
		}
	}
	m.log.Info().Str("event", "manager_started").Int("models", len(m.order)).Msg("manager started")
	return nil
}

// SetAspiredVersions replaces the desired version set of a configured model.
func (m *Manager) SetAspiredVersions(model string, versions []int64) error {
	if _, ok := m.models[model]; !ok {
		return ErrModelNotFound(model)
	}
	// Held across the lifecycle call so Close cannot start in between and
	// have its unaspire-all undone.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return lifecycle.ErrManagerStopped
	}
	if err := m.lc.SetAspiredVersions(model, versions); err != nil {
		if errors.Is(err, lifecycle.ErrManagerStopped) {
			return err
		}
		return badRequestError{msg: err.Error()}
	}
	return nil
}

// HasModel reports whether model is configured.
func (m *Manager) HasModel(model string) bool {
	_, ok := m.models[model]
	return ok
}

// Close cuts open batches and waits for queued work, then unaspires and
// unloads every version before stopping the reconcile loop. ctx bounds the
// unload phase; the loop is stopped either way.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.sched.Close()
	err := m.lc.Shutdown(ctx)
	m.lc.Stop()
	if err != nil {
		m.log.Warn().Str("event", "manager_closed").Err(err).Msg("shutdown did not drain every version")
		return err
	}
	m.log.Info().Str("event", "manager_closed").Msg("manager closed")
	return nil
}
