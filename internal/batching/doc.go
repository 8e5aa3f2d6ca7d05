// Package batching groups individually submitted inference tasks into batches
// and dispatches sealed batches to per-model execution engines.
//
// Each registered model owns a queue with one open batch per version. A batch
// is sealed by exactly one trigger:
//
//   - full: the admission that brings it to MaxBatchSize seals it inline
//   - timeout: BatchTimeout has elapsed since its first task
//   - early_cut: optional idle-gap policy; no task arrived for EarlyCut and
//     that deadline fell before the batch timeout
//   - cut: the scheduler was closed while the batch was open
//
// Sealed batches are dispatched first-in first-out per model by a pool of
// workers. The engine is all-or-nothing: one result per task, or one error
// delivered to every task in the batch. Failed batches are never retried.
//
// An open batch holds one in-flight reference on its servable (taken when the
// batch is opened, dropped after results are delivered), so the lifecycle
// manager cannot unload a version a batch still points at.
package batching
