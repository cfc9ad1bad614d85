package queuectl_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/store/memory"
)

func TestNew_Defaults(t *testing.T) {
	q, err := queuectl.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if q.Config() != queuectl.DefaultConfig() {
		t.Errorf("Config() = %+v, want defaults", q.Config())
	}
	if q.Logger() == nil {
		t.Error("Logger() is nil")
	}
	if q.Store() != nil {
		t.Error("Store() should be nil without WithStore")
	}
	if err := q.Close(); err != nil {
		t.Errorf("Close without store: %v", err)
	}
}

func TestNew_Options(t *testing.T) {
	s := memory.New()
	cfg := queuectl.DefaultConfig()
	cfg.Store = "memory"
	logger := slog.New(slog.DiscardHandler)

	q, err := queuectl.New(
		queuectl.WithConfig(cfg),
		queuectl.WithLogger(logger),
		queuectl.WithStore(s),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if q.Config().Store != "memory" {
		t.Errorf("Store config = %q, want memory", q.Config().Store)
	}
	if q.Logger() != logger {
		t.Error("WithLogger not applied")
	}
	if err := q.Store().Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := queuectl.DefaultConfig()
	cfg.PollInterval = 0
	if _, err := queuectl.New(queuectl.WithConfig(cfg)); err == nil {
		t.Fatal("expected error for zero poll interval")
	}
}

func TestErrors_Distinct(t *testing.T) {
	sentinels := []error{
		queuectl.ErrNoStore, queuectl.ErrStoreUnavailable,
		queuectl.ErrMigrationFailed, queuectl.ErrJobNotFound, queuectl.ErrDLQNotFound,
		queuectl.ErrProcessNotFound, queuectl.ErrDuplicateJobID, queuectl.ErrInvalidJob,
		queuectl.ErrInvalidSetting,
	}
	for i, a := range sentinels {
		for k, b := range sentinels {
			if i != k && errors.Is(a, b) {
				t.Errorf("%v matches %v", a, b)
			}
		}
	}
}
