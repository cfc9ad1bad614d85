package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/job"
)

// Service moves jobs between the active queue and the dead letter store.
type Service struct {
	store    Store
	jobStore job.Store
	logger   *slog.Logger
}

// NewService creates a DLQ service. A nil logger uses slog.Default().
func NewService(store Store, jobStore job.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, jobStore: jobStore, logger: logger}
}

// Move dead-letters j: it writes the entry, then deletes the job from the
// active queue. The two writes are not atomic. A failure after the first
// leaves the job in both places, never in neither, and calling Move again
// converges because PushDLQ replaces by ID.
//
// The job must still be processing under j.ClaimedBy. When another worker
// has taken it over, Move returns queuectl.ErrClaimLost and leaves the
// dead letter store as it found it.
func (s *Service) Move(ctx context.Context, j *job.Job, reason string) (*Entry, error) {
	current, err := s.jobStore.GetJob(ctx, j.ID)
	switch {
	case errors.Is(err, queuectl.ErrJobNotFound):
		// Already deleted by an earlier Move.
	case err != nil:
		return nil, fmt.Errorf("dlq: move %q: %w", j.ID, err)
	case current.State != job.StateProcessing || current.ClaimedBy != j.ClaimedBy:
		return nil, fmt.Errorf("dlq: move %q: %w", j.ID, queuectl.ErrClaimLost)
	}

	entry := NewEntry(j, reason, time.Now().UTC())
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, fmt.Errorf("dlq: push %q: %w", j.ID, err)
	}

	err = s.jobStore.DeleteClaimedJob(ctx, j.ID, j.ClaimedBy)
	if errors.Is(err, queuectl.ErrClaimLost) {
		// Taken over between the check and the delete.
		if derr := s.store.DeleteDLQ(ctx, j.ID); derr != nil {
			s.logger.Error("dead letter entry left for a job another worker holds",
				slog.String("job_id", j.ID),
				slog.String("error", derr.Error()),
			)
		}
		return nil, fmt.Errorf("dlq: move %q: %w", j.ID, err)
	}
	if err != nil {
		s.logger.Error("job dead-lettered but still in active queue",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return entry, fmt.Errorf("dlq: delete active job %q: %w", j.ID, err)
	}
	return entry, nil
}

// List returns dead letter entries, oldest failure first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Count returns the number of dead letter entries.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}
