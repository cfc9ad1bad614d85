package worker_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/backoff"
	"github.com/xraph/queuectl/command"
	"github.com/xraph/queuectl/dlq"
	"github.com/xraph/queuectl/ext"
	"github.com/xraph/queuectl/job"
	"github.com/xraph/queuectl/middleware"
	"github.com/xraph/queuectl/settings"
	"github.com/xraph/queuectl/store/memory"
	"github.com/xraph/queuectl/worker"
)

var epoch = time.Date(2025, 11, 8, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeRunner treats "true" as success and anything else as a failure
// that writes the command line to stderr.
func fakeRunner(_ context.Context, line string) command.Result {
	if line == "true" {
		return command.Result{ExitCode: 0}
	}
	return command.Result{ExitCode: 1, Stderr: "failed: " + line}
}

// recorder captures lifecycle events.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) OnJobStarted(_ context.Context, j *job.Job) error {
	r.add("started:" + j.ID)
	return nil
}

func (r *recorder) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	r.add("completed:" + j.ID)
	return nil
}

func (r *recorder) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	r.add("failed:" + j.ID)
	return nil
}

func (r *recorder) OnJobRetrying(_ context.Context, j *job.Job, _ int, _ time.Time) error {
	r.add("retrying:" + j.ID)
	return nil
}

func (r *recorder) OnJobDLQ(_ context.Context, j *job.Job, _ error) error {
	r.add("dlq:" + j.ID)
	return nil
}

func (r *recorder) OnShutdown(_ context.Context) error {
	r.add("shutdown")
	return nil
}

type harness struct {
	store    *memory.Store
	settings *settings.Service
	clock    *fakeClock
	rec      *recorder
	worker   *worker.Worker
}

func setup(t *testing.T, runner worker.Runner, opts ...worker.Option) *harness {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	clock := &fakeClock{t: epoch}
	rec := &recorder{}

	extensions := ext.NewRegistry(logger)
	extensions.Register(rec)

	settingsSvc := settings.NewService(s, logger)
	dlqSvc := dlq.NewService(s, s, logger)
	bo := backoff.NewExponential(settingsSvc)

	executor := worker.NewExecutor(extensions, s, dlqSvc, settingsSvc, bo, logger,
		worker.WithRunner(runner),
		worker.WithExecutorClock(clock.Now),
		worker.WithMiddleware(middleware.Recover(logger)),
	)
	opts = append([]worker.Option{
		worker.WithID("worker-test"),
		worker.WithPollInterval(5 * time.Millisecond),
		worker.WithClock(clock.Now),
	}, opts...)
	w := worker.New(s, executor, extensions, logger, opts...)
	return &harness{store: s, settings: settingsSvc, clock: clock, rec: rec, worker: w}
}

func (h *harness) enqueue(t *testing.T, id, cmd string, maxRetries int) {
	t.Helper()
	j := &job.Job{
		ID:         id,
		Command:    cmd,
		State:      job.StatePending,
		MaxRetries: maxRetries,
		CreatedAt:  h.clock.Now(),
		UpdatedAt:  h.clock.Now(),
	}
	if err := h.store.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob(%s): %v", id, err)
	}
}

func (h *harness) step(t *testing.T) bool {
	t.Helper()
	worked, err := h.worker.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	return worked
}

func TestStep_SuccessCompletes(t *testing.T) {
	h := setup(t, fakeRunner)
	h.enqueue(t, "job-2", "true", 3)

	if !h.step(t) {
		t.Fatal("expected a job to be claimed")
	}

	got, err := h.store.GetJob(context.Background(), "job-2")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("state = %q, want %q", got.State, job.StateCompleted)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.ClaimedBy != "" {
		t.Errorf("claimed_by = %q, want empty", got.ClaimedBy)
	}

	want := []string{"started:job-2", "completed:job-2"}
	if got := h.rec.list(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestStep_ExhaustedMovesToDLQ(t *testing.T) {
	h := setup(t, fakeRunner)
	h.enqueue(t, "job-1", "false", 1)

	h.step(t)

	if _, err := h.store.GetJob(context.Background(), "job-1"); !errors.Is(err, queuectl.ErrJobNotFound) {
		t.Fatalf("expected job removed from active queue, got %v", err)
	}
	entry, err := h.store.GetDLQ(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if entry.State != job.StateDead {
		t.Errorf("state = %q, want %q", entry.State, job.StateDead)
	}
	if entry.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", entry.Attempts)
	}
	if entry.LastError != "failed: false" {
		t.Errorf("last_error = %q", entry.LastError)
	}

	want := []string{"started:job-1", "failed:job-1", "dlq:job-1"}
	if got := h.rec.list(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestStep_RetryUsesConfiguredBackoff(t *testing.T) {
	h := setup(t, fakeRunner)
	ctx := context.Background()
	if err := h.settings.Set(ctx, settings.KeyBackoffBase, "3"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	h.enqueue(t, "job-3", "false", 3)

	h.step(t)
	got, _ := h.store.GetJob(ctx, "job-3")
	if got.State != job.StatePending {
		t.Fatalf("state = %q, want pending", got.State)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(epoch.Add(3*time.Second)) {
		t.Fatalf("next_run_at = %v, want %v", got.NextRunAt, epoch.Add(3*time.Second))
	}

	// Not yet eligible.
	if h.step(t) {
		t.Fatal("job claimed before its backoff elapsed")
	}

	h.clock.Advance(3 * time.Second)
	h.step(t)
	got, _ = h.store.GetJob(ctx, "job-3")
	if got.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", got.Attempts)
	}
	want := epoch.Add(3 * time.Second).Add(9 * time.Second)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Fatalf("next_run_at = %v, want %v", got.NextRunAt, want)
	}
}

func TestStep_AttemptsCountFailures(t *testing.T) {
	h := setup(t, fakeRunner)
	h.enqueue(t, "job-4", "false", 10)

	for i := range 4 {
		if !h.step(t) {
			t.Fatalf("run %d: job not claimed", i+1)
		}
		h.clock.Advance(time.Hour)
	}

	got, err := h.store.GetJob(context.Background(), "job-4")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", got.Attempts)
	}
}

func TestStep_InheritsDefaultMaxRetries(t *testing.T) {
	h := setup(t, fakeRunner)
	ctx := context.Background()
	if err := h.settings.Set(ctx, settings.KeyMaxRetries, "2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	h.enqueue(t, "job-5", "false", job.InheritMaxRetries)

	h.step(t)
	h.clock.Advance(time.Hour)
	h.step(t)

	if _, err := h.store.GetDLQ(ctx, "job-5"); err != nil {
		t.Fatalf("expected job-5 in DLQ after 2 attempts: %v", err)
	}
}

func TestStep_ZeroRetriesDeadLettersOnFirstFailure(t *testing.T) {
	h := setup(t, fakeRunner)
	h.enqueue(t, "job-6", "false", 0)

	h.step(t)

	if _, err := h.store.GetDLQ(context.Background(), "job-6"); err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
}

func TestStep_PanicIsAFailure(t *testing.T) {
	h := setup(t, func(_ context.Context, _ string) command.Result {
		panic("boom")
	})
	h.enqueue(t, "job-7", "anything", 1)

	h.step(t)

	entry, err := h.store.GetDLQ(context.Background(), "job-7")
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if !strings.Contains(entry.LastError, "panic") {
		t.Errorf("last_error = %q, want panic message", entry.LastError)
	}
}

func TestStep_ClaimErrorReturned(t *testing.T) {
	h := setup(t, fakeRunner)
	h.store.FailNext(errors.New("connection reset"))

	worked, err := h.worker.Step(context.Background())
	if worked {
		t.Error("expected no job claimed")
	}
	if !errors.Is(err, queuectl.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

// takeoverRunner simulates a stale-job requeue during the run, after which
// worker-b claims the job, then exits with the given code.
func takeoverRunner(t *testing.T, h **harness, exitCode int) worker.Runner {
	return func(ctx context.Context, _ string) command.Result {
		s := (*h).store
		now := (*h).clock.Now()
		if n, err := s.RequeueStaleJobs(ctx, now.Add(time.Hour), now); err != nil || n != 1 {
			t.Errorf("RequeueStaleJobs = %d, %v; want 1, nil", n, err)
		}
		if j, err := s.ClaimJob(ctx, now, "worker-b"); err != nil || j == nil {
			t.Errorf("ClaimJob by worker-b = %v, %v", j, err)
		}
		return command.Result{ExitCode: exitCode, Stderr: "boom"}
	}
}

func TestStep_ClaimLostDropsResult(t *testing.T) {
	tests := []struct {
		name       string
		exitCode   int
		maxRetries int
	}{
		{"success", 0, 3},
		{"retry", 1, 3},
		{"dead letter", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h *harness
			h = setup(t, takeoverRunner(t, &h, tt.exitCode))
			h.enqueue(t, "job-9", "slow", tt.maxRetries)

			if !h.step(t) {
				t.Fatal("expected a job to be claimed")
			}

			ctx := context.Background()
			got, err := h.store.GetJob(ctx, "job-9")
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if got.State != job.StateProcessing || got.ClaimedBy != "worker-b" {
				t.Errorf("job = %s/%q, want processing/worker-b", got.State, got.ClaimedBy)
			}
			if got.Attempts != 2 {
				t.Errorf("attempts = %d, want 2", got.Attempts)
			}
			if _, err := h.store.GetDLQ(ctx, "job-9"); !errors.Is(err, queuectl.ErrDLQNotFound) {
				t.Errorf("GetDLQ error = %v, want ErrDLQNotFound", err)
			}
			want := []string{"started:job-9"}
			if got := h.rec.list(); strings.Join(got, ",") != strings.Join(want, ",") {
				t.Errorf("events = %v, want %v", got, want)
			}
		})
	}
}

func TestRun_StopsWhenCancelled(t *testing.T) {
	h := setup(t, fakeRunner)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	events := h.rec.list()
	if len(events) == 0 || events[len(events)-1] != "shutdown" {
		t.Errorf("events = %v, want trailing shutdown", events)
	}
}

func TestRun_FinishesRunningJobBeforeStopping(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var runCtxErr error

	h := setup(t, func(ctx context.Context, _ string) command.Result {
		close(started)
		<-release
		runCtxErr = ctx.Err()
		return command.Result{ExitCode: 0}
	})
	h.enqueue(t, "job-8", "slow", 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	cancel()

	select {
	case <-done:
		t.Fatal("worker returned while a job was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after job finished")
	}

	if runCtxErr != nil {
		t.Errorf("run context was cancelled: %v", runCtxErr)
	}
	got, err := h.store.GetJob(context.Background(), "job-8")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("state = %q, want completed", got.State)
	}
}

func TestRun_ClaimRateLimitsThroughput(t *testing.T) {
	h := setup(t, fakeRunner, worker.WithClaimRate(10, 1))
	for i := range 10 {
		h.enqueue(t, fmt.Sprintf("rl-%02d", i), "true", 3)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := h.worker.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	counts, err := h.store.CountJobsByState(context.Background())
	if err != nil {
		t.Fatalf("CountJobsByState: %v", err)
	}
	if got := counts[job.StateCompleted]; got < 1 || got > 5 {
		t.Errorf("completed = %d, want between 1 and 5 at 10 claims/s", got)
	}
}

func TestWithIndex(t *testing.T) {
	w := worker.New(memory.New(), nil, ext.NewRegistry(nil), slog.Default(), worker.WithIndex(3))
	if !strings.HasPrefix(w.ID(), "wkr-") || !strings.HasSuffix(w.ID(), ":3") {
		t.Errorf("ID() = %q", w.ID())
	}
}
