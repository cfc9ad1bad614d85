// Package worker provides the job execution engine: an Executor that runs
// a claimed job's command through middleware and finalizes it, and a
// Worker that polls the store, claims jobs one at a time, and hands them
// to the Executor.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/backoff"
	"github.com/xraph/queuectl/command"
	"github.com/xraph/queuectl/dlq"
	"github.com/xraph/queuectl/ext"
	"github.com/xraph/queuectl/job"
	"github.com/xraph/queuectl/middleware"
	"github.com/xraph/queuectl/settings"
)

// Runner runs a command line. The context carries any run deadline.
type Runner func(ctx context.Context, line string) command.Result

// RetryPolicy supplies the default retry limit for jobs that inherit it.
type RetryPolicy interface {
	MaxRetries(ctx context.Context) (int, error)
}

// Outcome is how a run was finalized.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeDeadLetter  Outcome = "dead_lettered"
	// OutcomeClaimLost means another worker took the job over while it
	// ran, so this run's result was discarded.
	OutcomeClaimLost Outcome = "claim_lost"
)

// Executor runs a single claimed job through middleware and the command
// runner, then completes it, reschedules it with backoff, or moves it to
// the dead letter store, emitting lifecycle events along the way.
type Executor struct {
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	policy     RetryPolicy
	backoff    backoff.Strategy
	run        Runner
	mw         middleware.Middleware
	now        func() time.Time
	logger     *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRunner replaces the command runner. Tests use it to avoid spawning
// processes.
func WithRunner(r Runner) ExecutorOption {
	return func(e *Executor) { e.run = r }
}

// WithMiddleware sets the middleware wrapped around every run.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithExecutorClock sets the time source used for finalization timestamps
// and backoff scheduling.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	policy RetryPolicy,
	bo backoff.Strategy,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		policy:     policy,
		backoff:    bo,
		run: func(ctx context.Context, line string) command.Result {
			return command.Run(ctx, line, 0)
		},
		mw:     middleware.Chain(),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a claimed job and finalizes it.
// On exit status zero: marks completed, emits JobCompleted.
// On failure with retries remaining: reschedules with backoff, emits JobRetrying.
// On failure with retries exhausted: moves to the DLQ, emits JobFailed + JobDLQ.
//
// Finalization only applies while the job is still held by j.ClaimedBy.
// If a stale-job requeue handed it to another worker in the meantime, the
// result is logged and dropped with OutcomeClaimLost.
//
// The returned error reports a store write that failed during
// finalization. A failing command is not an error.
func (e *Executor) Execute(ctx context.Context, j *job.Job) (Outcome, error) {
	terminal := func(ctx context.Context) error {
		return e.run(ctx, j.Command).Err()
	}

	start := time.Now()
	runErr := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	var (
		outcome Outcome
		err     error
	)
	if runErr == nil {
		outcome, err = OutcomeCompleted, e.handleSuccess(ctx, j, elapsed)
	} else {
		outcome, err = e.handleFailure(ctx, j, runErr)
	}
	if errors.Is(err, queuectl.ErrClaimLost) {
		e.logger.Warn("job claimed by another worker, dropping result",
			slog.String("job_id", j.ID),
			slog.String("worker_id", j.ClaimedBy),
			slog.String("outcome", string(outcome)),
		)
		return OutcomeClaimLost, nil
	}
	return outcome, err
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	now := e.now()
	if err := e.store.CompleteJob(ctx, j.ID, j.ClaimedBy, now); err != nil {
		if errors.Is(err, queuectl.ErrClaimLost) {
			return err
		}
		e.logger.Error("failed to mark job completed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	j.State = job.StateCompleted
	j.ClaimedBy = ""
	j.UpdatedAt = now

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure either reschedules the job or sends it to the DLQ.
// Attempts were already incremented by the claim.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, runErr error) (Outcome, error) {
	if j.Exhausted(e.defaultMaxRetries(ctx)) {
		return OutcomeDeadLetter, e.sendToDLQ(ctx, j, runErr)
	}
	return OutcomeRescheduled, e.scheduleRetry(ctx, j)
}

// scheduleRetry returns the job to pending, eligible after the backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job) error {
	delay, err := e.backoff.Delay(ctx, j.Attempts)
	if err != nil {
		delay = backoff.Power(backoff.DefaultBase, j.Attempts)
		e.logger.Warn("backoff base unavailable, using default",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}

	now := e.now()
	nextRunAt := addSaturating(now, delay)
	if err := e.store.RescheduleJob(ctx, j.ID, j.ClaimedBy, nextRunAt, now); err != nil {
		if errors.Is(err, queuectl.ErrClaimLost) {
			return err
		}
		e.logger.Error("failed to reschedule job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	j.State = job.StatePending
	j.NextRunAt = &nextRunAt
	j.ClaimedBy = ""
	j.UpdatedAt = now

	e.extensions.EmitJobRetrying(ctx, j, j.Attempts, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)
	return nil
}

// sendToDLQ moves the job to the dead letter store and emits events.
func (e *Executor) sendToDLQ(ctx context.Context, j *job.Job, runErr error) error {
	if _, err := e.dlqService.Move(ctx, j, runErr.Error()); err != nil {
		if errors.Is(err, queuectl.ErrClaimLost) {
			return err
		}
		e.logger.Error("failed to move job to DLQ",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	j.State = job.StateDead

	e.extensions.EmitJobFailed(ctx, j, runErr)
	e.extensions.EmitJobDLQ(ctx, j, runErr)

	e.logger.Warn("job moved to DLQ after exhausting retries",
		slog.String("job_id", j.ID),
		slog.Int("attempts", j.Attempts),
		slog.String("error", runErr.Error()),
	)
	return nil
}

// defaultMaxRetries reads the configured default, falling back to the
// built-in value when the store cannot be read.
func (e *Executor) defaultMaxRetries(ctx context.Context) int {
	if e.policy == nil {
		return settings.DefaultMaxRetries
	}
	n, err := e.policy.MaxRetries(ctx)
	if err != nil {
		e.logger.Warn("max_retries unavailable, using default",
			slog.String("error", err.Error()),
		)
		return settings.DefaultMaxRetries
	}
	return n
}

// addSaturating returns t+d, clamped to a far-future instant instead of
// overflowing.
func addSaturating(t time.Time, d time.Duration) time.Time {
	next := t.Add(d)
	if next.Before(t) || next.Year() > 9999 {
		return time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	}
	return next
}
