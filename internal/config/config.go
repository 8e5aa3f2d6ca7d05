package config

import (
	"errors"
	"fmt"
	"time"

	"servingd/internal/batching"
	"servingd/internal/lifecycle"
)

// Version policies used by the directory watcher.
const (
	PolicyLatest = "latest"
	PolicyAll    = "all"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr               = ":8080"
	DefaultEngine             = "echo"
	DefaultMaxBatchSize       = 8
	DefaultBatchTimeoutMicros = 1000
	DefaultMaxEnqueuedBatches = 16
	DefaultNumWorkerThreads   = 1
	DefaultMaxLoadRetries     = 3
	DefaultLoadRetryBackoffMs = 100
	DefaultReconcileMs        = 500
	DefaultWatchMs            = 2000
	DefaultShutdownTimeoutMs  = 10000
	DefaultMaxBodyBytes       = 1 << 20
	DefaultLatestN            = 1
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr                string        `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir           string        `json:"models_dir,omitempty" yaml:"models_dir,omitempty" toml:"models_dir,omitempty"`
	LogLevel            string        `json:"log_level,omitempty" yaml:"log_level,omitempty" toml:"log_level,omitempty"`
	LogFormat           string        `json:"log_format,omitempty" yaml:"log_format,omitempty" toml:"log_format,omitempty"`
	ReconcileIntervalMs int           `json:"reconcile_interval_ms" yaml:"reconcile_interval_ms" toml:"reconcile_interval_ms"`
	WatchIntervalMs     int           `json:"watch_interval_ms" yaml:"watch_interval_ms" toml:"watch_interval_ms"`
	ShutdownTimeoutMs   int           `json:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms" toml:"shutdown_timeout_ms"`
	InferTimeoutMs      int           `json:"infer_timeout_ms,omitempty" yaml:"infer_timeout_ms,omitempty" toml:"infer_timeout_ms,omitempty"`
	MaxBodyBytes        int64         `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORS                CORSConfig    `json:"cors" yaml:"cors" toml:"cors"`
	Models              []ModelConfig `json:"models" yaml:"models" toml:"models"`
}

// CORSConfig enables the optional CORS middleware.
type CORSConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty" toml:"allowed_origins,omitempty"`
	AllowedMethods []string `json:"allowed_methods,omitempty" yaml:"allowed_methods,omitempty" toml:"allowed_methods,omitempty"`
	AllowedHeaders []string `json:"allowed_headers,omitempty" yaml:"allowed_headers,omitempty" toml:"allowed_headers,omitempty"`
}

// ModelConfig is the per-model configuration. BatchTimeoutMicros and
// MaxLoadRetries are pointers because zero is a meaningful value for both.
type ModelConfig struct {
	Name         string            `json:"name" yaml:"name" toml:"name"`
	Engine       string            `json:"engine" yaml:"engine" toml:"engine"`
	EngineParams map[string]string `json:"engine_params,omitempty" yaml:"engine_params,omitempty" toml:"engine_params,omitempty"`

	// Versions is a static aspired set. When empty the watcher derives it
	// from models_dir using VersionPolicy.
	Versions      []int64 `json:"versions,omitempty" yaml:"versions,omitempty" toml:"versions,omitempty"`
	VersionPolicy string  `json:"version_policy,omitempty" yaml:"version_policy,omitempty" toml:"version_policy,omitempty"`
	LatestN       int     `json:"latest_n,omitempty" yaml:"latest_n,omitempty" toml:"latest_n,omitempty"`

	MaxBatchSize       int  `json:"max_batch_size" yaml:"max_batch_size" toml:"max_batch_size"`
	BatchTimeoutMicros *int `json:"batch_timeout_micros" yaml:"batch_timeout_micros" toml:"batch_timeout_micros"`
	MaxEnqueuedBatches int  `json:"max_enqueued_batches" yaml:"max_enqueued_batches" toml:"max_enqueued_batches"`
	NumWorkerThreads   int  `json:"num_worker_threads" yaml:"num_worker_threads" toml:"num_worker_threads"`
	EarlyCutMicros     int  `json:"early_cut_micros,omitempty" yaml:"early_cut_micros,omitempty" toml:"early_cut_micros,omitempty"`
	MaxLoadRetries     *int `json:"max_load_retries" yaml:"max_load_retries" toml:"max_load_retries"`
	LoadRetryBackoffMs int  `json:"load_retry_backoff_ms" yaml:"load_retry_backoff_ms" toml:"load_retry_backoff_ms"`
}

func intPtr(v int) *int { return &v }

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.ReconcileIntervalMs == 0 {
		c.ReconcileIntervalMs = DefaultReconcileMs
	}
	if c.WatchIntervalMs == 0 {
		c.WatchIntervalMs = DefaultWatchMs
	}
	if c.ShutdownTimeoutMs == 0 {
		c.ShutdownTimeoutMs = DefaultShutdownTimeoutMs
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	for i := range c.Models {
		c.Models[i].ApplyDefaults()
	}
}

// ApplyDefaults fills unset fields of one model.
func (m *ModelConfig) ApplyDefaults() {
	if m.Engine == "" {
		m.Engine = DefaultEngine
	}
	if m.VersionPolicy == "" {
		m.VersionPolicy = PolicyLatest
	}
	if m.LatestN == 0 {
		m.LatestN = DefaultLatestN
	}
	if m.MaxBatchSize == 0 {
		m.MaxBatchSize = DefaultMaxBatchSize
	}
	if m.BatchTimeoutMicros == nil {
		m.BatchTimeoutMicros = intPtr(DefaultBatchTimeoutMicros)
	}
	if m.MaxEnqueuedBatches == 0 {
		m.MaxEnqueuedBatches = DefaultMaxEnqueuedBatches
	}
	if m.NumWorkerThreads == 0 {
		m.NumWorkerThreads = DefaultNumWorkerThreads
	}
	if m.MaxLoadRetries == nil {
		m.MaxLoadRetries = intPtr(DefaultMaxLoadRetries)
	}
	if m.LoadRetryBackoffMs == 0 {
		m.LoadRetryBackoffMs = DefaultLoadRetryBackoffMs
	}
}

// Validate reports every malformed field, joined. Call it after ApplyDefaults.
func (c Config) Validate() error {
	var errs []error
	if c.ReconcileIntervalMs < 0 || c.WatchIntervalMs < 0 || c.ShutdownTimeoutMs < 0 || c.InferTimeoutMs < 0 {
		errs = append(errs, errors.New("intervals and timeouts must be >= 0"))
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("max_body_bytes must be >= 0"))
	}
	switch c.LogFormat {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("models[%d]: empty name", i))
			continue
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Errorf("models[%d]: duplicate name %q", i, m.Name))
		}
		seen[m.Name] = true
		if err := m.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("model %s: %w", m.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks one defaulted model config.
func (m ModelConfig) Validate() error {
	var errs []error
	switch m.VersionPolicy {
	case "", PolicyLatest, PolicyAll:
	default:
		errs = append(errs, fmt.Errorf("unknown version_policy %q", m.VersionPolicy))
	}
	if m.LatestN < 0 {
		errs = append(errs, errors.New("latest_n must be >= 0"))
	}
	for _, v := range m.Versions {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("invalid version %d", v))
		}
	}
	if m.EarlyCutMicros < 0 || m.LoadRetryBackoffMs < 0 {
		errs = append(errs, errors.New("early_cut_micros and load_retry_backoff_ms must be >= 0"))
	}
	if m.MaxLoadRetries != nil && *m.MaxLoadRetries < 0 {
		errs = append(errs, errors.New("max_load_retries must be >= 0"))
	}
	if err := m.BatchingOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// BatchingOptions converts the batching tunables.
func (m ModelConfig) BatchingOptions() batching.Options {
	o := batching.Options{
		MaxBatchSize:       m.MaxBatchSize,
		MaxEnqueuedBatches: m.MaxEnqueuedBatches,
		NumWorkers:         m.NumWorkerThreads,
		EarlyCut:           time.Duration(m.EarlyCutMicros) * time.Microsecond,
	}
	if m.BatchTimeoutMicros != nil {
		o.BatchTimeout = time.Duration(*m.BatchTimeoutMicros) * time.Microsecond
	}
	return o
}

// LifecycleOptions converts the load retry tunables.
func (m ModelConfig) LifecycleOptions() lifecycle.ModelOptions {
	o := lifecycle.ModelOptions{RetryBackoff: time.Duration(m.LoadRetryBackoffMs) * time.Millisecond}
	if m.MaxLoadRetries != nil {
		o.MaxLoadRetries = *m.MaxLoadRetries
	}
	return o
}

// Duration helpers.

func (c Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalMs) * time.Millisecond
}

func (c Config) WatchInterval() time.Duration {
	return time.Duration(c.WatchIntervalMs) * time.Millisecond
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
}

func (c Config) InferTimeout() time.Duration {
	return time.Duration(c.InferTimeoutMs) * time.Millisecond
}
