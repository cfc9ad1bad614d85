// Package storetest is a conformance suite for store.Store backends.
//
// Each backend's tests call [Run] with a factory that returns an empty,
// migrated store. The memory backend runs it as a unit test; the MongoDB,
// PostgreSQL and Redis backends run it under the integration build tag.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/dlq"
	"github.com/xraph/queuectl/job"
	"github.com/xraph/queuectl/store"
)

// Factory returns an empty, migrated store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EnqueueAndGet", testEnqueueAndGet},
		{"EnqueueDuplicate", testEnqueueDuplicate},
		{"GetMissing", testGetMissing},
		{"ClaimEmpty", testClaimEmpty},
		{"ClaimOldestFirst", testClaimOldestFirst},
		{"ClaimTieBreaksByID", testClaimTieBreaksByID},
		{"ClaimRespectsNextRunAt", testClaimRespectsNextRunAt},
		{"ClaimConcurrent", testClaimConcurrent},
		{"CompleteJob", testCompleteJob},
		{"RescheduleJob", testRescheduleJob},
		{"DeleteJob", testDeleteJob},
		{"FinalizeRequiresClaim", testFinalizeRequiresClaim},
		{"DeleteClaimedJob", testDeleteClaimedJob},
		{"ListJobsByState", testListJobsByState},
		{"CountJobsByState", testCountJobsByState},
		{"RequeueStaleJobs", testRequeueStaleJobs},
		{"DLQPushReplaces", testDLQPushReplaces},
		{"DLQListAndDelete", testDLQListAndDelete},
		{"DLQGetMissing", testDLQGetMissing},
		{"Settings", testSettings},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// epoch is a fixed, millisecond-aligned reference time. Every backend
// stores at least millisecond precision.
var epoch = time.Date(2025, 11, 8, 10, 0, 0, 0, time.UTC)

// NewJob returns a pending job created offset after the reference time.
func NewJob(jobID string, offset time.Duration) *job.Job {
	created := epoch.Add(offset)
	return &job.Job{
		ID:         jobID,
		Command:    "echo " + jobID,
		State:      job.StatePending,
		MaxRetries: 3,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func mustEnqueue(t *testing.T, s store.Store, jobs ...*job.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := s.EnqueueJob(context.Background(), j); err != nil {
			t.Fatalf("EnqueueJob(%s): %v", j.ID, err)
		}
	}
}

func mustClaim(t *testing.T, s store.Store, now time.Time) *job.Job {
	t.Helper()
	j, err := s.ClaimJob(context.Background(), now, "worker-test")
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if j == nil {
		t.Fatal("ClaimJob returned no job")
	}
	return j
}

func testEnqueueAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("job1", 0)
	j.Timeout = 30 * time.Second
	mustEnqueue(t, s, j)

	got, err := s.GetJob(ctx, "job1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Command != j.Command || got.State != job.StatePending || got.MaxRetries != 3 {
		t.Errorf("GetJob = %+v, want %+v", got, j)
	}
	if got.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", got.Attempts)
	}
	if got.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", got.Timeout)
	}
	if !got.CreatedAt.Equal(j.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, j.CreatedAt)
	}
	if got.NextRunAt != nil {
		t.Errorf("NextRunAt = %v, want nil", got.NextRunAt)
	}
}

func testEnqueueDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustEnqueue(t, s, NewJob("dup", 0))

	err := s.EnqueueJob(ctx, NewJob("dup", time.Second))
	if !errors.Is(err, queuectl.ErrDuplicateJobID) {
		t.Fatalf("second EnqueueJob error = %v, want ErrDuplicateJobID", err)
	}

	counts, err := s.CountJobsByState(ctx)
	if err != nil {
		t.Fatalf("CountJobsByState: %v", err)
	}
	if counts[job.StatePending] != 1 {
		t.Errorf("pending count = %d, want 1", counts[job.StatePending])
	}
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.GetJob(context.Background(), "nope")
	if !errors.Is(err, queuectl.ErrJobNotFound) {
		t.Fatalf("GetJob error = %v, want ErrJobNotFound", err)
	}
}

func testClaimEmpty(t *testing.T, s store.Store) {
	j, err := s.ClaimJob(context.Background(), epoch, "w")
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if j != nil {
		t.Fatalf("ClaimJob = %+v, want nil", j)
	}
}

func testClaimOldestFirst(t *testing.T, s store.Store) {
	mustEnqueue(t, s,
		NewJob("c", 3*time.Second),
		NewJob("a", 1*time.Second),
		NewJob("b", 2*time.Second),
	)
	now := epoch.Add(time.Minute)

	for _, want := range []string{"a", "b", "c"} {
		got := mustClaim(t, s, now)
		if got.ID != want {
			t.Fatalf("claimed %q, want %q", got.ID, want)
		}
		if got.State != job.StateProcessing {
			t.Errorf("State = %q, want processing", got.State)
		}
		if got.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", got.Attempts)
		}
		if got.ClaimedBy != "worker-test" {
			t.Errorf("ClaimedBy = %q, want worker-test", got.ClaimedBy)
		}
		if !got.UpdatedAt.Equal(now) {
			t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, now)
		}
	}

	if j, err := s.ClaimJob(context.Background(), now, "w"); err != nil || j != nil {
		t.Fatalf("fourth ClaimJob = %v, %v; want nil, nil", j, err)
	}
}

func testClaimTieBreaksByID(t *testing.T, s store.Store) {
	mustEnqueue(t, s, NewJob("y", 0), NewJob("x", 0), NewJob("z", 0))
	now := epoch.Add(time.Minute)

	for _, want := range []string{"x", "y", "z"} {
		if got := mustClaim(t, s, now); got.ID != want {
			t.Fatalf("claimed %q, want %q", got.ID, want)
		}
	}
}

func testClaimRespectsNextRunAt(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := epoch.Add(time.Minute)

	mustEnqueue(t, s, NewJob("later", 0))
	claimed := mustClaim(t, s, now)
	next := now.Add(10 * time.Second)
	if err := s.RescheduleJob(ctx, claimed.ID, claimed.ClaimedBy, next, now); err != nil {
		t.Fatalf("RescheduleJob: %v", err)
	}

	if j, err := s.ClaimJob(ctx, now.Add(9*time.Second), "w"); err != nil || j != nil {
		t.Fatalf("ClaimJob before next_run_at = %v, %v; want nil, nil", j, err)
	}

	got := mustClaim(t, s, next)
	if got.ID != "later" || got.Attempts != 2 {
		t.Errorf("claimed %q attempts=%d, want later attempts=2", got.ID, got.Attempts)
	}
}

func testClaimConcurrent(t *testing.T, s store.Store) {
	mustEnqueue(t, s, NewJob("only", 0))
	now := epoch.Add(time.Minute)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
		errs    []error
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := s.ClaimJob(context.Background(), now, fmt.Sprintf("w%d", i))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if j != nil {
				claimed++
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("ClaimJob errors: %v", errs)
	}
	if claimed != 1 {
		t.Fatalf("%d workers claimed the job, want exactly 1", claimed)
	}

	got, err := s.GetJob(context.Background(), "only")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
}

func testCompleteJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := epoch.Add(time.Minute)
	mustEnqueue(t, s, NewJob("done", 0))
	mustClaim(t, s, now)

	later := now.Add(time.Second)
	if err := s.CompleteJob(ctx, "done", "worker-test", later); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	got, err := s.GetJob(ctx, "done")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("State = %q, want completed", got.State)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
}

func testRescheduleJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := epoch.Add(time.Minute)
	mustEnqueue(t, s, NewJob("retry", 0))
	mustClaim(t, s, now)

	next := now.Add(4 * time.Second)
	if err := s.RescheduleJob(ctx, "retry", "worker-test", next, now); err != nil {
		t.Fatalf("RescheduleJob: %v", err)
	}
	got, err := s.GetJob(ctx, "retry")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending {
		t.Errorf("State = %q, want pending", got.State)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, next)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (reschedule must not reset)", got.Attempts)
	}
}

func testDeleteJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustEnqueue(t, s, NewJob("gone", 0))

	if err := s.DeleteJob(ctx, "gone"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, "gone"); !errors.Is(err, queuectl.ErrJobNotFound) {
		t.Errorf("GetJob after delete error = %v, want ErrJobNotFound", err)
	}
	if err := s.DeleteJob(ctx, "gone"); err != nil {
		t.Errorf("second DeleteJob: %v, want nil", err)
	}
	if j, err := s.ClaimJob(ctx, epoch.Add(time.Hour), "w"); err != nil || j != nil {
		t.Errorf("ClaimJob after delete = %v, %v; want nil, nil", j, err)
	}
}

// testFinalizeRequiresClaim covers a slow worker whose job was requeued as
// stale and claimed by another worker before the first one finished.
func testFinalizeRequiresClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	t0 := epoch.Add(time.Minute)
	mustEnqueue(t, s, NewJob("slow", 0))

	if j, err := s.ClaimJob(ctx, t0, "worker-a"); err != nil || j == nil {
		t.Fatalf("ClaimJob by worker-a = %v, %v", j, err)
	}
	if n, err := s.RequeueStaleJobs(ctx, t0.Add(time.Second), t0.Add(time.Minute)); err != nil || n != 1 {
		t.Fatalf("RequeueStaleJobs = %d, %v; want 1, nil", n, err)
	}

	// Pending again, not yet reclaimed: worker-a no longer holds it.
	now := t0.Add(2 * time.Minute)
	if err := s.CompleteJob(ctx, "slow", "worker-a", now); !errors.Is(err, queuectl.ErrClaimLost) {
		t.Fatalf("CompleteJob on requeued job error = %v, want ErrClaimLost", err)
	}

	if j, err := s.ClaimJob(ctx, now, "worker-b"); err != nil || j == nil {
		t.Fatalf("ClaimJob by worker-b = %v, %v", j, err)
	}

	if err := s.CompleteJob(ctx, "slow", "worker-a", now); !errors.Is(err, queuectl.ErrClaimLost) {
		t.Errorf("CompleteJob by worker-a error = %v, want ErrClaimLost", err)
	}
	if err := s.RescheduleJob(ctx, "slow", "worker-a", now.Add(time.Minute), now); !errors.Is(err, queuectl.ErrClaimLost) {
		t.Errorf("RescheduleJob by worker-a error = %v, want ErrClaimLost", err)
	}
	if err := s.DeleteClaimedJob(ctx, "slow", "worker-a"); !errors.Is(err, queuectl.ErrClaimLost) {
		t.Errorf("DeleteClaimedJob by worker-a error = %v, want ErrClaimLost", err)
	}

	got, err := s.GetJob(ctx, "slow")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateProcessing || got.ClaimedBy != "worker-b" || got.Attempts != 2 {
		t.Errorf("job = %s/%q attempts=%d, want processing/worker-b attempts=2",
			got.State, got.ClaimedBy, got.Attempts)
	}

	if err := s.CompleteJob(ctx, "slow", "worker-b", now); err != nil {
		t.Fatalf("CompleteJob by worker-b: %v", err)
	}
	if err := s.CompleteJob(ctx, "missing", "worker-b", now); !errors.Is(err, queuectl.ErrJobNotFound) {
		t.Errorf("CompleteJob on missing job error = %v, want ErrJobNotFound", err)
	}
}

func testDeleteClaimedJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustEnqueue(t, s, NewJob("held", 0))
	mustClaim(t, s, epoch.Add(time.Minute))

	if err := s.DeleteClaimedJob(ctx, "held", "worker-test"); err != nil {
		t.Fatalf("DeleteClaimedJob: %v", err)
	}
	if _, err := s.GetJob(ctx, "held"); !errors.Is(err, queuectl.ErrJobNotFound) {
		t.Errorf("GetJob after delete error = %v, want ErrJobNotFound", err)
	}
	if err := s.DeleteClaimedJob(ctx, "held", "worker-test"); err != nil {
		t.Errorf("second DeleteClaimedJob: %v, want nil", err)
	}
	if n, err := s.CountJobsByState(ctx); err != nil || n[job.StateProcessing] != 0 {
		t.Errorf("processing count = %d, %v; want 0", n[job.StateProcessing], err)
	}
}

func testListJobsByState(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustEnqueue(t, s,
		NewJob("p2", 2*time.Second),
		NewJob("p1", 1*time.Second),
		NewJob("p3", 3*time.Second),
		NewJob("x", 0),
	)
	mustClaim(t, s, epoch.Add(time.Minute)) // claims x

	pending, err := s.ListJobsByState(ctx, job.StatePending, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobsByState: %v", err)
	}
	if ids := jobIDs(pending); fmt.Sprint(ids) != "[p1 p2 p3]" {
		t.Errorf("pending = %v, want [p1 p2 p3]", ids)
	}

	page, err := s.ListJobsByState(ctx, job.StatePending, job.ListOpts{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("ListJobsByState page: %v", err)
	}
	if ids := jobIDs(page); fmt.Sprint(ids) != "[p2]" {
		t.Errorf("page = %v, want [p2]", ids)
	}

	processing, err := s.ListJobsByState(ctx, job.StateProcessing, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobsByState processing: %v", err)
	}
	if ids := jobIDs(processing); fmt.Sprint(ids) != "[x]" {
		t.Errorf("processing = %v, want [x]", ids)
	}
}

func testCountJobsByState(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := epoch.Add(time.Minute)
	mustEnqueue(t, s, NewJob("a", 0), NewJob("b", time.Second), NewJob("c", 2*time.Second))
	mustClaim(t, s, now)
	mustClaim(t, s, now)
	if err := s.CompleteJob(ctx, "a", "worker-test", now); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	counts, err := s.CountJobsByState(ctx)
	if err != nil {
		t.Fatalf("CountJobsByState: %v", err)
	}
	want := map[job.State]int64{job.StatePending: 1, job.StateProcessing: 1, job.StateCompleted: 1}
	for st, n := range want {
		if counts[st] != n {
			t.Errorf("count[%s] = %d, want %d", st, counts[st], n)
		}
	}
}

func testRequeueStaleJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustEnqueue(t, s, NewJob("stale", 0), NewJob("fresh", time.Second))
	t0 := epoch.Add(time.Minute)
	mustClaim(t, s, t0)                  // stale, updated at t0
	mustClaim(t, s, t0.Add(time.Minute)) // fresh, updated a minute later

	now := t0.Add(2 * time.Minute)
	n, err := s.RequeueStaleJobs(ctx, t0.Add(30*time.Second), now)
	if err != nil {
		t.Fatalf("RequeueStaleJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d, want 1", n)
	}

	got, err := s.GetJob(ctx, "stale")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending || got.Attempts != 1 {
		t.Errorf("stale job = %s attempts=%d, want pending attempts=1", got.State, got.Attempts)
	}
	if again := mustClaim(t, s, now); again.ID != "stale" {
		t.Errorf("reclaimed %q, want stale", again.ID)
	}
}

func testDLQPushReplaces(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("dead", 0)
	j.Attempts = 3

	first := dlq.NewEntry(j, "first failure", epoch.Add(time.Minute))
	if err := s.PushDLQ(ctx, first); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}
	second := dlq.NewEntry(j, "second failure", epoch.Add(2*time.Minute))
	if err := s.PushDLQ(ctx, second); err != nil {
		t.Fatalf("PushDLQ replace: %v", err)
	}

	n, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if n != 1 {
		t.Errorf("CountDLQ = %d, want 1", n)
	}

	got, err := s.GetDLQ(ctx, "dead")
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.LastError != "second failure" {
		t.Errorf("LastError = %q, want second failure", got.LastError)
	}
	if got.State != job.StateDead || got.Attempts != 3 || got.Command != j.Command {
		t.Errorf("entry = %+v, want dead snapshot of %+v", got, j)
	}
	if !got.CreatedAt.Equal(j.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, j.CreatedAt)
	}
}

func testDLQListAndDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	pushes := []struct {
		id       string
		failedAt time.Duration
	}{
		{"d2", 2 * time.Second},
		{"d1", 1 * time.Second},
		{"d3", 3 * time.Second},
	}
	for _, p := range pushes {
		e := dlq.NewEntry(NewJob(p.id, 0), "boom", epoch.Add(p.failedAt))
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	if fmt.Sprint(ids) != "[d1 d2 d3]" {
		t.Errorf("ListDLQ = %v, want [d1 d2 d3]", ids)
	}

	if err := s.DeleteDLQ(ctx, "d2"); err != nil {
		t.Fatalf("DeleteDLQ: %v", err)
	}
	if err := s.DeleteDLQ(ctx, "d2"); err != nil {
		t.Errorf("second DeleteDLQ: %v, want nil", err)
	}
	if n, _ := s.CountDLQ(ctx); n != 2 {
		t.Errorf("CountDLQ after delete = %d, want 2", n)
	}
}

func testDLQGetMissing(t *testing.T, s store.Store) {
	_, err := s.GetDLQ(context.Background(), "nope")
	if !errors.Is(err, queuectl.ErrDLQNotFound) {
		t.Fatalf("GetDLQ error = %v, want ErrDLQNotFound", err)
	}
}

func testSettings(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, ok, err := s.GetSetting(ctx, "custom_key"); err != nil || ok {
		t.Fatalf("GetSetting missing = ok %v, err %v", ok, err)
	}
	if err := s.SetSetting(ctx, "custom_key", "v1"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting(ctx, "custom_key", "v2"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	v, ok, err := s.GetSetting(ctx, "custom_key")
	if err != nil || !ok || v != "v2" {
		t.Fatalf("GetSetting = %q, %v, %v; want v2, true, nil", v, ok, err)
	}

	all, err := s.ListSettings(ctx)
	if err != nil {
		t.Fatalf("ListSettings: %v", err)
	}
	if all["custom_key"] != "v2" {
		t.Errorf("ListSettings[custom_key] = %q, want v2", all["custom_key"])
	}
}

func testPing(t *testing.T, s store.Store) {
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func jobIDs(jobs []*job.Job) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}
