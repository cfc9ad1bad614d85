package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/queuectl/job"
)

// Timeout returns middleware that enforces a per-run deadline. The job's
// own Timeout wins; otherwise def applies. Zero in both means unbounded.
// The command executor kills the process when the deadline passes.
func Timeout(def time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		d := j.Timeout
		if d <= 0 {
			d = def
		}
		if d > 0 {
			logger.Debug("job timeout set",
				slog.String("job_id", j.ID),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
