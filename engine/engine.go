package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/backoff"
	"github.com/xraph/queuectl/dlq"
	"github.com/xraph/queuectl/ext"
	"github.com/xraph/queuectl/id"
	"github.com/xraph/queuectl/job"
	mw "github.com/xraph/queuectl/middleware"
	"github.com/xraph/queuectl/observability"
	"github.com/xraph/queuectl/settings"
	"github.com/xraph/queuectl/store"
	"github.com/xraph/queuectl/worker"
)

const instrumentationName = "github.com/xraph/queuectl"

// Engine wraps a Queue with typed subsystem access.
// Use Build() to create one from a Queue.
type Engine struct {
	q          *queuectl.Queue
	store      store.Store
	extensions *ext.Registry
	settings   *settings.Service
	dlqService *dlq.Service
	bo         backoff.Strategy
	executor   *worker.Executor
	mws        []mw.Middleware
	runner     worker.Runner
	now        func() time.Time
	logger     *slog.Logger

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain. It runs inside
// the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.Exponential reading backoff_base from the store is
// used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithRunner replaces the command runner used by workers.
func WithRunner(r worker.Runner) Option {
	return func(eng *Engine) {
		eng.runner = r
	}
}

// WithClock sets the time source for enqueue timestamps, claims and
// backoff scheduling.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.now = now
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Queue.
// The Queue's store must implement store.Store.
func Build(q *queuectl.Queue, opts ...Option) (*Engine, error) {
	logger := q.Logger()
	if q.Store() == nil {
		return nil, queuectl.ErrNoStore
	}

	s, ok := q.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("queuectl: store %T does not implement store.Store", q.Store())
	}

	eng := &Engine{
		q:          q,
		store:      s,
		extensions: ext.NewRegistry(logger),
		settings:   settings.NewService(s, logger),
		dlqService: dlq.NewService(s, s, logger),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.NewExponential(eng.settings)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware and the metrics extension (custom provider
	// or global).
	var metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(q.Config().JobTimeout, logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	execOpts := []worker.ExecutorOption{
		worker.WithMiddleware(allMws...),
		worker.WithExecutorClock(eng.now),
	}
	if eng.runner != nil {
		execOpts = append(execOpts, worker.WithRunner(eng.runner))
	}
	eng.executor = worker.NewExecutor(eng.extensions, s, eng.dlqService, eng.settings, eng.bo, logger, execOpts...)

	return eng, nil
}

// EnqueueCommand creates a pending job for command and stores it.
// A job ID that already exists in the active queue or in the dead letter
// store is rejected with queuectl.ErrDuplicateJobID; a dead-lettered ID
// comes back through dlq retry instead.
func (eng *Engine) EnqueueCommand(ctx context.Context, command string, opts ...job.Option) (*job.Job, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("%w: command is required", queuectl.ErrInvalidJob)
	}

	jobOpts := job.DefaultOptions()
	for _, opt := range opts {
		opt(&jobOpts)
	}

	jobID := jobOpts.ID
	if jobID == "" {
		jobID = id.NewJobID()
	} else if err := id.Validate(jobID); err != nil {
		return nil, fmt.Errorf("%w: %w", queuectl.ErrInvalidJob, err)
	}

	if jobOpts.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must not be negative", queuectl.ErrInvalidJob)
	}

	maxRetries := jobOpts.MaxRetries
	if maxRetries < 0 {
		n, err := eng.settings.MaxRetries(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve max_retries: %w", err)
		}
		maxRetries = n
	}

	now := eng.now()
	j := &job.Job{
		ID:         jobID,
		Command:    command,
		State:      job.StatePending,
		MaxRetries: maxRetries,
		Timeout:    jobOpts.Timeout,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := eng.store.GetDLQ(ctx, jobID); err == nil {
		return nil, fmt.Errorf("enqueue job %q: dead lettered: %w", jobID, queuectl.ErrDuplicateJobID)
	} else if !errors.Is(err, queuectl.ErrDLQNotFound) {
		return nil, err
	}

	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	eng.logger.Info("job enqueued",
		slog.String("job_id", j.ID),
		slog.String("command", j.Command),
		slog.Int("max_retries", j.MaxRetries),
	)
	return j, nil
}

// Enqueue stores the job described by req.
func (eng *Engine) Enqueue(ctx context.Context, req EnqueueRequest) (*job.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return eng.EnqueueCommand(ctx, req.Command, req.Options()...)
}

// List returns jobs in the given state, oldest first. Dead jobs live in
// the dead letter store, so StateDead lists its entries.
func (eng *Engine) List(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	if state != job.StateDead {
		return eng.store.ListJobsByState(ctx, state, opts)
	}
	entries, err := eng.dlqService.List(ctx, dlq.ListOpts{Limit: opts.Limit, Offset: opts.Offset})
	if err != nil {
		return nil, err
	}
	jobs := make([]*job.Job, 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, e.Job.Clone())
	}
	return jobs, nil
}

// Status is a summary of the queue by state.
type Status struct {
	Counts map[job.State]int64
}

// Total returns the number of jobs across all states.
func (s Status) Total() int64 {
	var n int64
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// Status counts jobs per state. The dead count is the size of the dead
// letter store. Every state is present in the result, zero or not.
func (eng *Engine) Status(ctx context.Context) (Status, error) {
	counts, err := eng.store.CountJobsByState(ctx)
	if err != nil {
		return Status{}, err
	}
	dead, err := eng.dlqService.Count(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{Counts: make(map[job.State]int64, len(job.States))}
	for _, s := range job.States {
		st.Counts[s] = counts[s]
	}
	st.Counts[job.StateDead] = dead
	return st, nil
}

// DeadLetters returns dead letter entries, oldest failure first.
func (eng *Engine) DeadLetters(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	return eng.dlqService.List(ctx, opts)
}

// RetryDeadLetter puts a dead-lettered job back on the queue as pending
// with zero attempts. An unknown ID returns queuectl.ErrJobNotFound.
func (eng *Engine) RetryDeadLetter(ctx context.Context, jobID string) (*job.Job, error) {
	j, err := eng.dlqService.Retry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	eng.extensions.EmitJobReplayed(ctx, j)
	eng.logger.Info("dead letter requeued", slog.String("job_id", j.ID))
	return j, nil
}

// RecoverStale returns processing jobs untouched for longer than
// olderThan to pending. It is the manual counterpart of a worker's
// stale-job threshold.
func (eng *Engine) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("queuectl: recover threshold must be positive, got %s", olderThan)
	}
	now := eng.now()
	n, err := eng.store.RequeueStaleJobs(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}
	eng.logger.Info("stale jobs requeued",
		slog.Int64("count", n),
		slog.Duration("older_than", olderThan),
	)
	return n, nil
}

// NewWorker returns a worker polling this engine's store, configured from
// the queue's Config. Extra options are applied last.
func (eng *Engine) NewWorker(opts ...worker.Option) *worker.Worker {
	cfg := eng.q.Config()
	base := []worker.Option{
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithStaleJobThreshold(cfg.StaleJobThreshold),
		worker.WithClaimRate(cfg.ClaimRate, 1),
		worker.WithClock(eng.now),
	}
	return worker.New(eng.store, eng.executor, eng.extensions, eng.logger, append(base, opts...)...)
}

// WaitForStore pings the store up to attempts times, sleeping step*i
// between the i-th and next attempt. It returns the last ping error,
// wrapped with queuectl.ErrStoreUnavailable, when every attempt fails.
func (eng *Engine) WaitForStore(ctx context.Context, attempts int, step time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = eng.store.Ping(ctx); err == nil {
			return nil
		}
		eng.logger.Warn("store unreachable",
			slog.Int("attempt", i),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)
		if i == attempts {
			break
		}
		select {
		case <-time.After(step * time.Duration(i)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %w", queuectl.ErrStoreUnavailable, err)
}

// Ping checks store connectivity.
func (eng *Engine) Ping(ctx context.Context) error { return eng.store.Ping(ctx) }

// Settings returns the configuration service.
func (eng *Engine) Settings() *settings.Service { return eng.settings }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Store returns the engine's store.
func (eng *Engine) Store() store.Store { return eng.store }

// Queue returns the underlying Queue.
func (eng *Engine) Queue() *queuectl.Queue { return eng.q }
