package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/job"
	"github.com/xraph/queuectl/store"
	"github.com/xraph/queuectl/store/storetest"
)

var _ store.Store = (*Store)(nil)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

func TestFailNext(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	s.FailNext(errors.New("connection refused"))
	_, err := s.ClaimJob(ctx, time.Now(), "w")
	if !errors.Is(err, queuectl.ErrStoreUnavailable) {
		t.Fatalf("ClaimJob error = %v, want ErrStoreUnavailable", err)
	}

	// The failure is consumed by one call.
	if _, err := s.ClaimJob(ctx, time.Now(), "w"); err != nil {
		t.Fatalf("second ClaimJob: %v", err)
	}
}

func TestStoredJobIsolatedFromCaller(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := storetest.NewJob("iso", 0)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	j.State = job.StateCompleted

	got, err := s.GetJob(ctx, "iso")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending {
		t.Errorf("stored State = %q, caller mutation leaked", got.State)
	}
}
