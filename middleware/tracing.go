package middleware

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/queuectl/command"
	"github.com/xraph/queuectl/job"
)

// tracerName is the instrumentation scope name for queuectl tracing.
const tracerName = "github.com/xraph/queuectl"

// Tracing returns middleware that wraps each run in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through.
//
// Span attributes: queuectl.job.id, queuectl.job.command,
// queuectl.job.attempt, and queuectl.job.exit_code on failure.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "queuectl.job.run",
			trace.WithAttributes(
				attribute.String("queuectl.job.id", j.ID),
				attribute.String("queuectl.job.command", j.Command),
				attribute.Int("queuectl.job.attempt", j.Attempts),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			var exitErr *command.ExitError
			if errors.As(err, &exitErr) {
				span.SetAttributes(attribute.Int("queuectl.job.exit_code", exitErr.Code))
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
