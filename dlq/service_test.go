package dlq_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/dlq"
	"github.com/xraph/queuectl/job"
	"github.com/xraph/queuectl/store/memory"
)

func newFailedJob(jobID string) *job.Job {
	created := time.Date(2025, 11, 8, 10, 0, 0, 0, time.UTC)
	next := created.Add(8 * time.Second)
	return &job.Job{
		ID:         jobID,
		Command:    "false",
		State:      job.StateProcessing,
		Attempts:   3,
		MaxRetries: 3,
		ClaimedBy:  "wkr-test",
		CreatedAt:  created,
		UpdatedAt:  created,
		NextRunAt:  &next,
	}
}

func TestService_Move(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, nil)
	ctx := context.Background()

	j := newFailedJob("job1")
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	entry, err := svc.Move(ctx, j, "boom")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if entry.State != job.StateDead {
		t.Errorf("entry State = %q, want dead", entry.State)
	}
	if entry.LastError != "boom" {
		t.Errorf("LastError = %q, want boom", entry.LastError)
	}
	if entry.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}

	if _, err := s.GetJob(ctx, "job1"); !errors.Is(err, queuectl.ErrJobNotFound) {
		t.Errorf("job still in active queue: %v", err)
	}
	got, err := s.GetDLQ(ctx, "job1")
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.Attempts != 3 || got.Command != "false" {
		t.Errorf("entry = %+v, want snapshot of failed job", got)
	}
}

func TestService_Move_EmptyReason(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, nil)

	entry, err := svc.Move(context.Background(), newFailedJob("quiet"), "")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if entry.LastError == "" {
		t.Error("LastError must never be empty")
	}
}

func TestService_Move_Idempotent(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, nil)
	ctx := context.Background()
	j := newFailedJob("twice")

	for range 2 {
		if _, err := svc.Move(ctx, j, "boom"); err != nil {
			t.Fatalf("Move: %v", err)
		}
	}
	if n, _ := s.CountDLQ(ctx); n != 1 {
		t.Errorf("CountDLQ = %d, want 1", n)
	}
}

func TestService_Move_DeleteFailureKeepsEntry(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	j := newFailedJob("partial")
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	svc := dlq.NewService(s, failingDeleter{s}, nil)
	if _, err := svc.Move(ctx, j, "boom"); err == nil {
		t.Fatal("expected delete failure to be reported")
	}

	// Duplicate, never loss.
	if _, err := s.GetDLQ(ctx, "partial"); err != nil {
		t.Errorf("GetDLQ: %v", err)
	}
	if _, err := s.GetJob(ctx, "partial"); err != nil {
		t.Errorf("GetJob: %v", err)
	}
}

func TestService_Move_ClaimLost(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, nil)
	ctx := context.Background()

	j := newFailedJob("taken")
	held := j.Clone()
	held.ClaimedBy = "wkr-other"
	if err := s.EnqueueJob(ctx, held); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	if _, err := svc.Move(ctx, j, "boom"); !errors.Is(err, queuectl.ErrClaimLost) {
		t.Fatalf("Move error = %v, want ErrClaimLost", err)
	}
	got, err := s.GetJob(ctx, "taken")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ClaimedBy != "wkr-other" || got.State != job.StateProcessing {
		t.Errorf("job = %s/%q, want processing/wkr-other", got.State, got.ClaimedBy)
	}
	if _, err := s.GetDLQ(ctx, "taken"); !errors.Is(err, queuectl.ErrDLQNotFound) {
		t.Errorf("GetDLQ error = %v, want ErrDLQNotFound", err)
	}
}

func TestService_Retry(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, nil)
	ctx := context.Background()

	orig := newFailedJob("again")
	if _, err := svc.Move(ctx, orig, "boom"); err != nil {
		t.Fatalf("Move: %v", err)
	}

	j, err := svc.Retry(ctx, "again")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if j.State != job.StatePending || j.Attempts != 0 || j.NextRunAt != nil {
		t.Errorf("retried job = %+v, want pending, 0 attempts, no next_run_at", j)
	}

	got, err := s.GetJob(ctx, "again")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending || got.Attempts != 0 || got.NextRunAt != nil {
		t.Errorf("stored job = %+v", got)
	}
	if got.MaxRetries != 3 || got.Command != "false" || !got.CreatedAt.Equal(orig.CreatedAt) {
		t.Errorf("stored job lost original fields: %+v", got)
	}
	if _, err := s.GetDLQ(ctx, "again"); !errors.Is(err, queuectl.ErrDLQNotFound) {
		t.Errorf("entry still present: %v", err)
	}

	claimed, err := s.ClaimJob(ctx, time.Now(), "w")
	if err != nil || claimed == nil || claimed.ID != "again" {
		t.Fatalf("retried job not immediately claimable: %v, %v", claimed, err)
	}
}

func TestService_Retry_NotFound(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, nil)

	_, err := svc.Retry(context.Background(), "missing")
	if !errors.Is(err, queuectl.ErrJobNotFound) {
		t.Fatalf("Retry error = %v, want ErrJobNotFound", err)
	}
}

func TestService_Retry_DuplicateKeepsEntry(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s, nil)
	ctx := context.Background()

	if _, err := svc.Move(ctx, newFailedJob("clash"), "boom"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if err := s.EnqueueJob(ctx, &job.Job{ID: "clash", Command: "true", State: job.StatePending}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	_, err := svc.Retry(ctx, "clash")
	if !errors.Is(err, queuectl.ErrDuplicateJobID) {
		t.Fatalf("Retry error = %v, want ErrDuplicateJobID", err)
	}
	if _, err := s.GetDLQ(ctx, "clash"); err != nil {
		t.Errorf("entry removed despite failed retry: %v", err)
	}
}

func TestNewEntry_TruncatesLongError(t *testing.T) {
	long := make([]byte, dlq.MaxErrorLen*2)
	for i := range long {
		long[i] = 'x'
	}
	e := dlq.NewEntry(newFailedJob("long"), string(long), time.Now())
	if len(e.LastError) != dlq.MaxErrorLen {
		t.Errorf("LastError length = %d, want %d", len(e.LastError), dlq.MaxErrorLen)
	}
}

func TestNewEntry_TruncatesOnRuneBoundary(t *testing.T) {
	tests := []struct {
		name   string
		reason string
	}{
		{"multibyte at limit", "x" + strings.Repeat("é", dlq.MaxErrorLen)},
		{"binary stderr", strings.Repeat("a\xff", dlq.MaxErrorLen)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := dlq.NewEntry(newFailedJob("utf8"), tt.reason, time.Now())
			if !utf8.ValidString(e.LastError) {
				t.Errorf("LastError is not valid UTF-8")
			}
			if len(e.LastError) > dlq.MaxErrorLen {
				t.Errorf("LastError length = %d, want <= %d", len(e.LastError), dlq.MaxErrorLen)
			}
			if len(e.LastError) < dlq.MaxErrorLen-utf8.UTFMax {
				t.Errorf("LastError length = %d, cut too short", len(e.LastError))
			}
		})
	}
}

// failingDeleter wraps a job store whose DeleteClaimedJob always fails.
type failingDeleter struct {
	*memory.Store
}

func (failingDeleter) DeleteClaimedJob(context.Context, string, string) error {
	return errors.New("delete failed")
}
