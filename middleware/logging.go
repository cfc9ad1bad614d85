package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/queuectl/job"
)

// Logging returns middleware that logs the start and outcome of each run.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("job started",
			slog.String("job_id", j.ID),
			slog.String("command", j.Command),
			slog.Int("attempt", j.Attempts),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("job failed",
				slog.String("job_id", j.ID),
				slog.Int("attempt", j.Attempts),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job completed",
				slog.String("job_id", j.ID),
				slog.Int("attempt", j.Attempts),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
