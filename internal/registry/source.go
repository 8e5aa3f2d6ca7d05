package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"servingd/internal/common/fsutil"
	"servingd/internal/config"
	"servingd/internal/lifecycle"
)

// metadataFiles are looked up in order inside each version directory.
var metadataFiles = []string{"servable.yaml", "servable.yml", "servable.json", "servable.toml"}

// Handle is what DirSource hands the lifecycle manager for a loaded version.
type Handle struct {
	Model    string
	Version  int64
	Path     string
	Metadata map[string]any
	LoadedAt time.Time
}

// DirSource loads servables from <Root>/<model>/<version>/. Loading checks
// the directory and decodes optional servable metadata; the weights
// themselves are left to the execution engine.
type DirSource struct {
	root string
	log  zerolog.Logger

	mu     sync.Mutex
	loaded map[string]*Handle
}

// NewDirSource returns a DirSource rooted at root. log may be nil.
func NewDirSource(root string, log *zerolog.Logger) (*DirSource, error) {
	abs, err := fsutil.Resolve(root)
	if err != nil {
		return nil, err
	}
	s := &DirSource{root: abs, log: zerolog.Nop(), loaded: make(map[string]*Handle)}
	if log != nil {
		s.log = log.With().Str("component", "registry").Logger()
	}
	return s, nil
}

// Root returns the resolved root directory.
func (s *DirSource) Root() string { return s.root }

func handleKey(model string, version int64) string {
	return model + "/" + strconv.FormatInt(version, 10)
}

// Load implements lifecycle.Source.
func (s *DirSource) Load(ctx context.Context, model string, version int64) (lifecycle.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, model, strconv.FormatInt(version, 10))
	if !fsutil.IsDir(dir) {
		return nil, fmt.Errorf("version dir not found: %s", dir)
	}
	h := &Handle{Model: model, Version: version, Path: dir, LoadedAt: time.Now()}
	if p, ok := fsutil.FirstFile(dir, metadataFiles...); ok {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if err := config.Decode(b, filepath.Ext(p), &h.Metadata); err != nil {
			return nil, fmt.Errorf("metadata %s: %w", p, err)
		}
	}
	s.mu.Lock()
	s.loaded[handleKey(model, version)] = h
	s.mu.Unlock()
	s.log.Debug().Str("event", "source_load").Str("model", model).Int64("version", version).Str("path", dir).Msg("servable dir loaded")
	return h, nil
}

// Unload implements lifecycle.Source.
func (s *DirSource) Unload(ctx context.Context, model string, version int64, h lifecycle.Handle) error {
	dh, ok := h.(*Handle)
	if !ok || dh == nil {
		return fmt.Errorf("unexpected handle type %T", h)
	}
	s.mu.Lock()
	delete(s.loaded, handleKey(model, version))
	s.mu.Unlock()
	s.log.Debug().Str("event", "source_unload").Str("model", model).Int64("version", version).Msg("servable dir released")
	return nil
}

// Loaded returns the number of handles not yet unloaded.
func (s *DirSource) Loaded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loaded)
}
