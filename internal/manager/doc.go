// Package manager is the orchestration layer of servingd. It wires the
// version lifecycle manager, the batching scheduler and the engine registry
// together and exposes the operations the HTTP layer and CLI need:
//
//   - manager.go: Manager type, construction, Start/Close.
//   - config.go: ManagerConfig and package defaults.
//   - infer.go: Infer, version resolution and task submission.
//   - status_report.go: ListModels, Status and Ready.
//   - errors.go: error helpers mapped to HTTP status codes by httpapi.
//
// External packages should use public methods only.
package manager
