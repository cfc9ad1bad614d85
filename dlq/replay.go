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

// Retry puts a dead-lettered job back on the active queue as pending with
// zero attempts and no scheduled run time, then removes the entry.
//
// The job is inserted before the entry is deleted. If a job with the same
// ID is already active, Retry returns queuectl.ErrDuplicateJobID and the
// entry is kept. An unknown ID returns queuectl.ErrJobNotFound.
func (s *Service) Retry(ctx context.Context, jobID string) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, jobID)
	if err != nil {
		if errors.Is(err, queuectl.ErrDLQNotFound) {
			return nil, fmt.Errorf("dlq: retry %q: %w", jobID, queuectl.ErrJobNotFound)
		}
		return nil, err
	}

	j := entry.Requeue(time.Now().UTC())
	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, fmt.Errorf("dlq: retry %q: %w", jobID, err)
	}

	if err := s.store.DeleteDLQ(ctx, jobID); err != nil {
		s.logger.Warn("retried job still present in dead letter store",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return j, fmt.Errorf("dlq: retry %q: delete entry: %w", jobID, err)
	}
	return j, nil
}
