//go:build integration

package redis_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/job"
	"github.com/xraph/queuectl/settings"
	"github.com/xraph/queuectl/store"
	redisstore "github.com/xraph/queuectl/store/redis"
	"github.com/xraph/queuectl/store/storetest"
)

// setupTestStore starts a Redis container and returns an owning Store.
func setupTestStore(t *testing.T) *redisstore.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	s, err := redisstore.Open(uri, redisstore.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// reset flushes the database and reseeds the default settings.
func reset(t *testing.T, s *redisstore.Store) {
	t.Helper()
	ctx := context.Background()
	if err := s.Client().FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flushdb: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestConformance(t *testing.T) {
	s := setupTestStore(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		reset(t, s)
		return s
	})
}

func TestStore_MigrateIdempotentKeepsSettings(t *testing.T) {
	s := setupTestStore(t)
	reset(t, s)
	ctx := context.Background()

	if err := s.SetSetting(ctx, settings.KeyMaxRetries, "7"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if v, _, _ := s.GetSetting(ctx, settings.KeyMaxRetries); v != "7" {
		t.Errorf("max_retries after migrate = %q, want 7", v)
	}
}

func TestStore_ScheduledJobPromotedWhenDue(t *testing.T) {
	s := setupTestStore(t)
	reset(t, s)
	ctx := context.Background()

	base := time.Date(2025, 11, 8, 10, 0, 0, 0, time.UTC)
	due := base.Add(time.Minute)

	// The older job is scheduled; the newer one is ready now.
	older := &job.Job{ID: "older", Command: "true", State: job.StatePending,
		MaxRetries: 3, CreatedAt: base, UpdatedAt: base, NextRunAt: &due}
	newer := &job.Job{ID: "newer", Command: "true", State: job.StatePending,
		MaxRetries: 3, CreatedAt: base.Add(time.Second), UpdatedAt: base.Add(time.Second)}
	for _, j := range []*job.Job{older, newer} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob(%s): %v", j.ID, err)
		}
	}

	got, err := s.ClaimJob(ctx, base.Add(2*time.Second), "w")
	if err != nil || got == nil || got.ID != "newer" {
		t.Fatalf("first claim = %v, %v; want newer", got, err)
	}
	if got, _ := s.ClaimJob(ctx, base.Add(2*time.Second), "w"); got != nil {
		t.Fatalf("claimed %s before it was due", got.ID)
	}
	got, err = s.ClaimJob(ctx, due, "w")
	if err != nil || got == nil || got.ID != "older" {
		t.Fatalf("claim at due time = %v, %v; want older", got, err)
	}
}

func TestOpen_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := redisstore.Open("redis://127.0.0.1:1/0?dial_timeout=500ms&max_retries=-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Ping(ctx); !errors.Is(err, queuectl.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
