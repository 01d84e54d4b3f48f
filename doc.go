// Package conduct provides a declarative workflow-orchestration layer for
// asynchronous job execution. Callers define named tasks with dependencies,
// conditions, retries, throttling, and per-element ("each") fan-out, and
// conduct executes them as a single logical run with topological ordering,
// resumability, and distributed throttling.
//
// Conduct is designed as a library, not a service. The systems that actually
// schedule units of work (a job queue), store semaphore leases (a shared
// KV store), and persist run state are collaborators behind small
// interfaces; reference implementations live in the queue and store
// subpackages.
//
// # Quick Start
//
//	wf, err := workflow.New("billing", []*workflow.Task{
//	    workflow.NewTask("fetch", fetchInvoices),
//	    workflow.NewTask("charge", chargeInvoice,
//	        workflow.WithDependsOn("fetch"),
//	        workflow.WithEach(func(ctx *workflow.Context) ([]any, error) {
//	            out, _ := ctx.Output("fetch")
//	            return out.Data["invoices"].([]any), nil
//	        }),
//	        workflow.WithRetry(workflow.RetryPolicy{Count: 3, Strategy: workflow.RetryExponential, BaseDelay: time.Second}),
//	    ),
//	})
//
//	eng, err := engine.New(memory.New())
//	eng.Register(wf)
//	if err := eng.Start(ctx); err != nil { ... }
//	run, err := eng.StartRun(ctx, "billing", workflow.Arguments{"org": "acme"})
//
// # Architecture
//
// Conduct follows a composable store pattern: the workflow subsystem defines
// its persistence interface and the semaphore defines its lease-store
// interface; a single backend (memory, redis, bun/Postgres) implements both.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package conduct
