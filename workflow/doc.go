// Package workflow is the execution core: task definitions, the
// dependency graph with its deterministic topological order, the
// resumable execution context, and the runner state machine that drives
// conditions, hooks, retries, fan-out dispatch, throttling, and
// dependency-wait rescheduling.
//
// The package owns no I/O beyond its Store, Enqueuer, and Emitter
// collaborator interfaces; backends live in the store, queue, and
// observability packages and are wired together by the engine package.
package workflow
