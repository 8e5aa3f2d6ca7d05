package lifecycle

import (
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when the corresponding fields are unset.
const (
	defaultInterval        = 500 * time.Millisecond
	defaultRetryBackoff    = 100 * time.Millisecond
	defaultMaxRetryBackoff = 10 * time.Second
)

// ModelOptions are the per-model lifecycle tunables.
type ModelOptions struct {
	// MaxLoadRetries is the number of extra load attempts after the first
	// failure before the version is marked failed.
	MaxLoadRetries int
	// RetryBackoff is the delay before the first retry; it doubles per attempt.
	RetryBackoff time.Duration
}

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Source   Source
	Interval time.Duration

	// Logger is optional; nil disables logging.
	Logger    *zerolog.Logger
	Publisher EventPublisher

	// Models holds per-model options; models not listed use DefaultOptions.
	Models         map[string]ModelOptions
	DefaultOptions ModelOptions

	// MaxRetryBackoff caps the exponential retry delay.
	MaxRetryBackoff time.Duration
}

func (c Config) optionsFor(model string) ModelOptions {
	opts, ok := c.Models[model]
	if !ok {
		opts = c.DefaultOptions
	}
	if opts.MaxLoadRetries < 0 {
		opts.MaxLoadRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	return opts
}
