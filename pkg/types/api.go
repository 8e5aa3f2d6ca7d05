package types

import "encoding/json"

// InferRequest represents an inference request payload.
type InferRequest struct {
	// Required model name.
	// example: resnet
	Model string `json:"model" example:"resnet"`
	// Optional version number. Empty or "latest" selects the highest loaded version.
	// example: 2
	Version string `json:"version,omitempty" example:"2"`
	// Opaque request payload handed to the execution engine.
	Payload json.RawMessage `json:"payload"`
}

// InferResponse carries the result of one task.
type InferResponse struct {
	// Model that served the request.
	// example: resnet
	Model string `json:"model" example:"resnet"`
	// Version that served the request.
	// example: 2
	Version int64 `json:"version" example:"2"`
	// Batch the task was executed in.
	// example: 6f1c2d0a-5b7e-4c55-9f2e-2b1a3c4d5e6f
	BatchID string `json:"batch_id" example:"6f1c2d0a-5b7e-4c55-9f2e-2b1a3c4d5e6f"`
	// Number of tasks in that batch.
	// example: 4
	BatchSize int `json:"batch_size" example:"4"`
	// Engine result for this task.
	Result any `json:"result"`
}

// AspiredRequest is the body of PUT /models/{model}/versions.
type AspiredRequest struct {
	// Desired version set. An empty list unloads every version.
	// example: [2,3]
	Versions []int64 `json:"versions"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of configured models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// VersionStatus summarizes one tracked version for /status.
type VersionStatus struct {
	// Version number.
	// example: 2
	Version int64 `json:"version" example:"2"`
	// Lifecycle state (pending_load, loaded, pending_unload, failed).
	// example: loaded
	State string `json:"state" example:"loaded"`
	// Whether the version is still in the desired set.
	// example: true
	Aspired bool `json:"aspired" example:"true"`
	// Batches currently holding a reference to this version.
	// example: 1
	InFlight int64 `json:"in_flight" example:"1"`
	// Load attempts made since the last success.
	// example: 0
	Attempts int `json:"attempts,omitempty" example:"0"`
	// Last load error, if any.
	Error string `json:"error,omitempty"`
}

// ModelStatus summarizes one model for /status.
type ModelStatus struct {
	// Model name.
	// example: resnet
	Name string `json:"name" example:"resnet"`
	// Desired version set.
	// example: [2,3]
	Aspired []int64 `json:"aspired"`
	// Tracked versions, ascending.
	Versions []VersionStatus `json:"versions"`
	// Tasks waiting in open batches.
	// example: 3
	OpenBatchSize int `json:"open_batch_size" example:"3"`
	// Batches open or sealed but not yet picked up by a worker.
	// example: 1
	EnqueuedBatches int `json:"enqueued_batches" example:"1"`
	// Configured batching limits.
	// example: 8
	MaxBatchSize int `json:"max_batch_size" example:"8"`
	// example: 16
	MaxEnqueuedBatches int `json:"max_enqueued_batches" example:"16"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Per-model state.
	Models []ModelStatus `json:"models"`
	// Overall state: loading until at least one version is available, then ready.
	// example: ready
	State string `json:"state" example:"ready"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Inference requests accepted since start.
	// example: 1200
	InferTotal uint64 `json:"infer_total" example:"1200"`
	// Inference requests that failed since start.
	// example: 3
	InferErrorsTotal uint64 `json:"infer_errors_total" example:"3"`
}
