package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/conductkit/conduct"
	"github.com/conductkit/conduct/ext"
	"github.com/conductkit/conduct/hook"
	"github.com/conductkit/conduct/id"
	"github.com/conductkit/conduct/observability"
	"github.com/conductkit/conduct/queue"
	"github.com/conductkit/conduct/semaphore"
	"github.com/conductkit/conduct/workflow"
)

// tracerName identifies the engine's default tracing hook.
const tracerName = "github.com/conductkit/conduct"

// Engine wires the store, lease store, delivery queue, extension
// registry, and workflow runner into one unit with a single lifecycle.
type Engine struct {
	store      workflow.Store
	leases     semaphore.LeaseStore
	extensions *ext.Registry
	registry   *workflow.Registry
	runner     *workflow.Runner
	queue      *queue.Memory
	logger     *slog.Logger

	queueConfigs []queue.Config
	scopeConfigs []queue.ScopeConfig
	concurrency  int
	resumePoll   time.Duration
	hooks        []workflow.AroundFunc
	defaultHooks []workflow.AroundFunc

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLeaseStore sets the distributed lease store backing task
// throttles. Without one, throttle keys degrade to no-ops.
func WithLeaseStore(ls semaphore.LeaseStore) Option {
	return func(e *Engine) { e.leases = ls }
}

// WithExtension registers an extension with the engine.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) { e.extensions.Register(x) }
}

// WithHook appends an around hook to the engine's default stack. It is
// installed on every workflow registered through the engine, outside
// the workflow's own hooks.
func WithHook(h workflow.AroundFunc) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, h) }
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(e *Engine) { e.queueConfigs = append(e.queueConfigs, configs...) }
}

// WithScopeConfig registers workflow-scoped limits on shared queues.
func WithScopeConfig(configs ...queue.ScopeConfig) Option {
	return func(e *Engine) { e.scopeConfigs = append(e.scopeConfigs, configs...) }
}

// WithConcurrency sets the number of queue worker goroutines.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

// WithResumeInterval sets how often the engine scans for rescheduled
// runs whose resume time has passed. Zero disables the scan.
func WithResumeInterval(d time.Duration) Option {
	return func(e *Engine) { e.resumePoll = d }
}

// WithLogger sets the logger for the engine and its subsystems.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracerProvider sets a custom OTel TracerProvider. When set, the
// default tracing hook uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, the
// default metrics hook uses this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// New builds an Engine around the given store.
func New(store workflow.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, conduct.ErrNoStore
	}

	e := &Engine{
		store:       store,
		logger:      slog.Default(),
		registry:    workflow.NewRegistry(),
		concurrency: 4,
		resumePoll:  time.Second,
		stopCh:      make(chan struct{}),
	}
	e.extensions = ext.NewRegistry(e.logger)

	for _, opt := range opts {
		opt(e)
	}

	// A lease-capable store doubles as the throttle backend unless one
	// was set explicitly.
	if e.leases == nil {
		if ls, ok := store.(semaphore.LeaseStore); ok {
			e.leases = ls
		}
	}

	// Build the default hook stack: recover, tracing, metrics, logging.
	var tracingHook workflow.AroundFunc
	if e.tracerProvider != nil {
		tracingHook = hook.TracingWithTracer(e.tracerProvider.Tracer(tracerName))
	} else {
		tracingHook = hook.Tracing()
	}
	var metricsHook workflow.AroundFunc
	if e.meterProvider != nil {
		metricsHook = hook.MetricsWithMeter(e.meterProvider.Meter(tracerName))
	} else {
		metricsHook = hook.Metrics()
	}
	e.defaultHooks = append([]workflow.AroundFunc{
		hook.Recover(e.logger),
		tracingHook,
		metricsHook,
		hook.Logging(e.logger),
	}, e.hooks...)

	e.extensions.Register(observability.NewMetricsExtension())

	manager := queue.NewManager(e.queueConfigs...)
	for _, sc := range e.scopeConfigs {
		manager.SetScopeConfig(sc)
	}
	e.queue = queue.NewMemory(
		queue.WithManager(manager),
		queue.WithConcurrency(e.concurrency),
		queue.WithMemoryLogger(e.logger),
	)

	e.runner = workflow.NewRunner(store,
		workflow.WithRegistry(e.registry),
		workflow.WithLeaseStore(e.leases),
		workflow.WithEnqueuer(e.queue),
		workflow.WithEmitter(e.extensions),
		workflow.WithLogger(e.logger),
	)

	return e, nil
}

// Register adds a workflow to the engine's registry, installing the
// default hook stack outside the workflow's own hooks.
func (e *Engine) Register(wf *workflow.Workflow) {
	wf.Hooks.Around = append(append([]workflow.AroundFunc{}, e.defaultHooks...), wf.Hooks.Around...)
	e.registry.Register(wf)
}

// StartRun begins a new run of a registered workflow.
func (e *Engine) StartRun(ctx context.Context, name string, args workflow.Arguments, opts ...workflow.RunOption) (*workflow.Run, error) {
	return e.runner.Start(ctx, name, args, opts...)
}

// Resume continues an interrupted or failed run from its snapshot.
func (e *Engine) Resume(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	return e.runner.Resume(ctx, runID)
}

// Start launches the delivery queue workers and the resume scanner.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}
	e.running = true
	e.stopCh = make(chan struct{})

	if err := e.store.Ping(ctx); err != nil {
		e.running = false
		return fmt.Errorf("conduct/engine: store unreachable: %w", err)
	}

	if err := e.queue.Start(ctx, e.runner.ExecuteUnit); err != nil {
		e.running = false
		return fmt.Errorf("conduct/engine: start queue: %w", err)
	}

	// Pick up runs rescheduled before a restart (best-effort).
	if _, err := e.runner.ResumeDue(ctx, time.Now().UTC()); err != nil {
		e.logger.Warn("failed to resume due runs", slog.String("error", err.Error()))
	}

	if e.resumePoll > 0 {
		e.wg.Add(1)
		go e.resumeLoop()
	}

	e.logger.Info("engine started",
		slog.Int("concurrency", e.concurrency),
		slog.Any("workflows", e.registry.Names()),
	)
	return nil
}

// Stop shuts the engine down: the resume scanner exits, queue workers
// drain their current unit, and extensions are notified.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()

	if err := e.queue.Stop(ctx); err != nil {
		e.logger.Error("queue stop error", slog.String("error", err.Error()))
	}

	e.extensions.EmitShutdown(ctx)
	e.logger.Info("engine stopped")
	return nil
}

// resumeLoop periodically resumes rescheduled runs whose ResumeAt has
// passed.
func (e *Engine) resumeLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.resumePoll)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			n, err := e.runner.ResumeDue(context.Background(), time.Now().UTC())
			if err != nil {
				e.logger.Warn("resume scan failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				e.logger.Debug("resumed rescheduled runs", slog.Int("count", n))
			}
		}
	}
}

// Extensions returns the extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// Registry returns the workflow registry.
func (e *Engine) Registry() *workflow.Registry { return e.registry }

// Runner returns the workflow runner.
func (e *Engine) Runner() *workflow.Runner { return e.runner }

// Queue returns the delivery queue.
func (e *Engine) Queue() *queue.Memory { return e.queue }
