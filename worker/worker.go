package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/queuectl/ext"
	"github.com/xraph/queuectl/id"
	"github.com/xraph/queuectl/job"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultClaimTimeout = 10 * time.Second
)

// Worker polls the store and runs one job at a time. Cancelling the
// context passed to Run is a stop request: the worker finishes the job it
// is running, finalizes it, and returns.
type Worker struct {
	store      job.Store
	executor   *Executor
	extensions *ext.Registry
	logger     *slog.Logger

	id                string
	pollInterval      time.Duration
	claimTimeout      time.Duration
	staleJobThreshold time.Duration
	limiter           *rate.Limiter // nil = unlimited
	now               func() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithID sets the identity recorded on claimed jobs.
func WithID(workerID string) Option {
	return func(w *Worker) { w.id = workerID }
}

// WithIndex derives the worker identity from this host, this process and
// the supervisor-assigned index.
func WithIndex(index int) Option {
	return func(w *Worker) { w.id = id.NewWorkerID(index) }
}

// WithPollInterval sets how long an idle worker sleeps between polls.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithClaimTimeout bounds a single claim round trip to the store.
func WithClaimTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.claimTimeout = d
		}
	}
}

// WithStaleJobThreshold enables returning processing jobs that have not
// been touched for d to pending while the worker is idle. Zero disables
// it.
func WithStaleJobThreshold(d time.Duration) Option {
	return func(w *Worker) { w.staleJobThreshold = d }
}

// WithClaimRate caps claim attempts per second for this worker, with
// bursts of up to burst attempts. A non-positive perSecond removes the cap.
func WithClaimRate(perSecond float64, burst int) Option {
	return func(w *Worker) {
		if perSecond <= 0 {
			w.limiter = nil
			return
		}
		w.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithClock sets the time source used for claim eligibility.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New creates a worker.
func New(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...Option,
) *Worker {
	w := &Worker{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		logger:       logger,
		id:           id.NewWorkerID(0),
		pollInterval: defaultPollInterval,
		claimTimeout: defaultClaimTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the identity recorded on jobs this worker claims.
func (w *Worker) ID() string { return w.id }

// Run polls until ctx is cancelled. It never interrupts a running
// command; the stop request is observed before each poll and after each
// job. Store errors are logged and retried after the poll interval, so
// Run only returns once stopped.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting",
		slog.String("worker_id", w.id),
		slog.Duration("poll_interval", w.pollInterval),
	)

	for ctx.Err() == nil {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				break
			}
		}
		worked, err := w.Step(ctx)
		if err != nil {
			w.logger.Error("worker step failed",
				slog.String("worker_id", w.id),
				slog.String("error", err.Error()),
			)
			w.sleep(ctx)
			continue
		}
		if !worked {
			w.requeueStale(ctx)
			w.sleep(ctx)
		}
	}

	w.extensions.EmitShutdown(context.WithoutCancel(ctx))
	w.logger.Info("worker stopped gracefully", slog.String("worker_id", w.id))
	return nil
}

// Step claims at most one job and runs it to completion. It reports
// whether a job was claimed. The claim and the run both ignore
// cancellation of ctx so that a claimed job is always finalized.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.claimTimeout)
	j, err := w.store.ClaimJob(claimCtx, w.now(), w.id)
	cancel()
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if j == nil {
		return false, nil
	}

	runCtx := context.WithoutCancel(ctx)
	w.extensions.EmitJobStarted(runCtx, j)

	outcome, err := w.executor.Execute(runCtx, j)
	if err != nil {
		return true, fmt.Errorf("finalize job %s: %w", j.ID, err)
	}

	w.logger.Debug("job finished",
		slog.String("job_id", j.ID),
		slog.String("outcome", string(outcome)),
		slog.Int("attempts", j.Attempts),
	)
	return true, nil
}

// requeueStale returns abandoned processing jobs to pending.
func (w *Worker) requeueStale(ctx context.Context) {
	if w.staleJobThreshold <= 0 || ctx.Err() != nil {
		return
	}
	now := w.now()
	n, err := w.store.RequeueStaleJobs(ctx, now.Add(-w.staleJobThreshold), now)
	if err != nil {
		w.logger.Error("requeue stale jobs error", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		w.logger.Info("requeued stale jobs",
			slog.String("worker_id", w.id),
			slog.Int64("count", n),
		)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
