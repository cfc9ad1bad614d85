package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/queuectl/job"
)

// meterName is the instrumentation scope name for queuectl metrics.
const meterName = "github.com/xraph/queuectl"

// Metrics returns middleware that records per-run metrics using the global
// OTel MeterProvider. If no MeterProvider is configured, noop instruments
// are used and this middleware becomes a pass-through.
//
// Instruments:
//   - queuectl.job.duration (Float64Histogram): run time in seconds,
//     with attribute status ("ok" or "error")
//   - queuectl.job.executions (Int64Counter): total runs,
//     with attribute status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"queuectl.job.duration",
		metric.WithDescription("Duration of job command runs in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"queuectl.job.executions",
		metric.WithDescription("Total number of job command runs"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(attribute.String("status", status))

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
