package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/queuectl/job"
)

// Recover returns middleware that recovers from panics in the chain.
// Panics are converted to errors and logged with a stack trace, so a bug
// in an extension or middleware fails the run instead of the worker.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job run panicked",
					slog.String("job_id", j.ID),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic while running job %s: %v", j.ID, r)
			}
		}()
		return next(ctx)
	}
}
