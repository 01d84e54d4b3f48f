// Package engine wires the Conduct subsystems together and provides the
// application-level API for registering workflows and starting runs.
//
// The engine package exists to break a fundamental import cycle: the
// root conduct package defines Entity (imported by workflow, store
// backends, etc.) and therefore cannot import those packages back.
// Engine sits above all subsystem packages and below the application
// layer.
//
// # Building an Engine
//
//	eng, err := engine.New(memory.New(),
//	    engine.WithLeaseStore(leases),
//	    engine.WithExtension(myExtension),
//	    engine.WithHook(hook.Logging(logger)),
//	    engine.WithQueueConfig(queue.Config{
//	        Name:      "critical",
//	        RateLimit: 100,
//	    }),
//	)
//
// # Registering and Running Workflows
//
//	eng.Register(syncOrders)
//
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop(ctx)
//
//	run, err := eng.StartRun(ctx, "orders/sync", workflow.Arguments{"region": "eu"})
//
// The engine installs a default around-hook stack on every registered
// workflow (recover, tracing, metrics, logging) ahead of any hooks the
// workflow itself declares, registers the observability metrics
// extension, delivers fanned-out units through an in-process queue, and
// periodically resumes rescheduled runs whose ResumeAt has passed.
package engine
