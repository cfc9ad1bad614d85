package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/queuectl/ext"
	"github.com/xraph/queuectl/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobStarted   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobDLQ       = (*MetricsExtension)(nil)
	_ ext.JobReplayed  = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope for lifecycle counters.
const meterName = "github.com/xraph/queuectl/observability"

// MetricsExtension records queue-wide lifecycle counters through an OTel
// meter. Register it as an extension to track enqueue rates, claims,
// completions, retries, dead-lettering and DLQ replays.
type MetricsExtension struct {
	JobEnqueued  metric.Int64Counter
	JobStarted   metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobRetried   metric.Int64Counter
	JobDLQ       metric.Int64Counter
	JobReplayed  metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider. Without a configured provider the counters are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. On instrument errors the OTel API returns noop counters.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	return &MetricsExtension{
		JobEnqueued:  counter("queuectl.job.enqueued", "Jobs accepted into the queue"),
		JobStarted:   counter("queuectl.job.started", "Jobs claimed by a worker"),
		JobCompleted: counter("queuectl.job.completed", "Jobs whose command exited zero"),
		JobFailed:    counter("queuectl.job.failed", "Jobs that failed with no retries left"),
		JobRetried:   counter("queuectl.job.retried", "Failed runs rescheduled with backoff"),
		JobDLQ:       counter("queuectl.job.dlq", "Jobs moved to the dead letter store"),
		JobReplayed:  counter("queuectl.job.replayed", "Dead-lettered jobs put back on the queue"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, _ *job.Job) error {
	m.JobEnqueued.Add(ctx, 1)
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, _ *job.Job) error {
	m.JobStarted.Add(ctx, 1)
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, _ *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, _ *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1)
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, _ *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1)
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, _ *job.Job, _ error) error {
	m.JobDLQ.Add(ctx, 1)
	return nil
}

// OnJobReplayed implements ext.JobReplayed.
func (m *MetricsExtension) OnJobReplayed(ctx context.Context, _ *job.Job) error {
	m.JobReplayed.Add(ctx, 1)
	return nil
}
