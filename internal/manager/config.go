package manager

import (
	"time"

	"github.com/rs/zerolog"

	"servingd/internal/config"
	"servingd/internal/engine"
	"servingd/internal/lifecycle"
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Models are defaulted and validated model configs.
	Models []config.ModelConfig
	Source lifecycle.Source
	// Engines resolves ModelConfig.Engine. Nil uses engine.Default().
	Engines *engine.Registry

	ReconcileInterval time.Duration
	MaxRetryBackoff   time.Duration

	// Logger is optional; nil disables logging.
	Logger    *zerolog.Logger
	Publisher lifecycle.EventPublisher
}
