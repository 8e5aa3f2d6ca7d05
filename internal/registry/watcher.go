package registry

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"servingd/internal/config"
	"servingd/internal/worker"
)

// Aspirer receives the version sets the watcher derives.
type Aspirer interface {
	SetAspiredVersions(model string, versions []int64) error
}

// WatchedModel selects which on-disk versions of a model are aspired.
type WatchedModel struct {
	Name    string
	Policy  string // config.PolicyLatest or config.PolicyAll
	LatestN int
}

// WatcherConfig encapsulates all tunables for Watcher construction.
type WatcherConfig struct {
	Root     string
	Interval time.Duration
	Models   []WatchedModel
	Aspirer  Aspirer
	Logger   *zerolog.Logger
}

// Watcher periodically rescans Root and pushes aspired version sets.
type Watcher struct {
	cfg  WatcherConfig
	log  zerolog.Logger
	loop *worker.Worker

	mu   sync.Mutex
	last map[string][]int64
}

// NewWatcher builds a stopped watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Duration(config.DefaultWatchMs) * time.Millisecond
	}
	w := &Watcher{cfg: cfg, log: zerolog.Nop(), last: make(map[string][]int64)}
	if cfg.Logger != nil {
		w.log = cfg.Logger.With().Str("component", "watcher").Logger()
	}
	w.loop = worker.New("watcher", w.run)
	return w
}

// SelectVersions applies policy to the ascending list all.
func SelectVersions(all []int64, policy string, latestN int) []int64 {
	if policy == config.PolicyAll || latestN <= 0 || latestN >= len(all) {
		return slices.Clone(all)
	}
	return slices.Clone(all[len(all)-latestN:])
}

// ScanOnce rescans every watched model and calls the aspirer for the ones
// whose selected set changed. A model whose directory cannot be read keeps
// its previous set.
func (w *Watcher) ScanOnce() {
	for _, m := range w.cfg.Models {
		all, err := ScanVersions(w.cfg.Root, m.Name)
		if err != nil {
			w.log.Warn().Str("event", "scan_error").Str("model", m.Name).Err(err).Msg("model scan failed")
			continue
		}
		want := SelectVersions(all, m.Policy, m.LatestN)
		w.mu.Lock()
		prev, seen := w.last[m.Name]
		w.mu.Unlock()
		if seen && slices.Equal(prev, want) {
			continue
		}
		if err := w.cfg.Aspirer.SetAspiredVersions(m.Name, want); err != nil {
			w.log.Warn().Str("event", "aspire_error").Str("model", m.Name).Err(err).Msg("set aspired versions failed")
			continue
		}
		w.mu.Lock()
		w.last[m.Name] = want
		w.mu.Unlock()
		w.log.Info().Str("event", "versions_discovered").Str("model", m.Name).Ints64("versions", want).Msg("aspired set from disk")
	}
}

// Start runs an immediate scan, then one every Interval.
func (w *Watcher) Start(ctx context.Context) error {
	return w.loop.Start(ctx)
}

// Stop halts the watcher and waits for a running scan to finish.
func (w *Watcher) Stop() {
	w.loop.Stop()
}

func (w *Watcher) run(ctx context.Context) {
	w.ScanOnce()
	t := time.NewTicker(w.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.ScanOnce()
		}
	}
}
