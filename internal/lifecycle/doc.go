// Package lifecycle reconciles the aspired (desired) set of model versions
// against the set that is currently loaded.
//
// Callers declare what they want with SetAspiredVersions. A reconcile pass,
// driven by a timer or by a kick after each change, issues loads through the
// Source for versions that are pending and unloads versions that are no longer
// aspired once their in-flight reference count has drained to zero.
//
// Each version moves through PendingLoad → Loaded → PendingUnload → Removed,
// with Failed reachable only from PendingLoad. Removed and Failed records are
// evicted. All record state is guarded by the Manager's lock; load and unload
// I/O always runs outside it.
//
// The batching scheduler reads availability through GetAvailableServable and
// pins a servable with Acquire/Release for as long as a batch references it.
package lifecycle
