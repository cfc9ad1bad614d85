// Package backoff computes retry delays for failed jobs.
//
// The queue's policy is a pure power function, delay = base^attempts whole
// seconds, with no jitter and no cap. The base is operator-tunable at
// runtime, so [Exponential] reads it from its source on every call.
package backoff

import (
	"context"
	"math"
	"time"
)

// DefaultBase is the backoff base used when none is configured.
const DefaultBase = 2.0

// Strategy computes the delay before a job becomes eligible again.
type Strategy interface {
	// Delay returns how long to wait after the given attempt failed.
	// attempts is the job's attempt count after the failed run (1-indexed).
	Delay(ctx context.Context, attempts int) (time.Duration, error)
}

// Power returns base^attempts seconds. Fractional seconds are truncated.
// Results that do not fit in a time.Duration saturate at the maximum
// duration instead of wrapping.
func Power(base float64, attempts int) time.Duration {
	secs := math.Trunc(math.Pow(base, float64(attempts)))
	switch {
	case math.IsNaN(secs) || secs <= 0:
		return 0
	case secs >= float64(math.MaxInt64)/float64(time.Second):
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(secs) * time.Second
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// BaseSource supplies the current backoff base.
type BaseSource interface {
	BackoffBase(ctx context.Context) (float64, error)
}

// BaseFunc adapts a function to BaseSource.
type BaseFunc func(ctx context.Context) (float64, error)

// BackoffBase calls f.
func (f BaseFunc) BackoffBase(ctx context.Context) (float64, error) { return f(ctx) }

// Exponential returns base^attempts seconds, reading base from Source on
// every call. Changing the configured base affects the next failure.
type Exponential struct {
	Source BaseSource
}

// NewExponential creates an exponential strategy backed by src.
func NewExponential(src BaseSource) *Exponential {
	return &Exponential{Source: src}
}

// Delay reads the current base and returns Power(base, attempts).
func (e *Exponential) Delay(ctx context.Context, attempts int) (time.Duration, error) {
	base := DefaultBase
	if e.Source != nil {
		b, err := e.Source.BackoffBase(ctx)
		if err != nil {
			return 0, err
		}
		base = b
	}
	return Power(base, attempts), nil
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ context.Context, _ int) (time.Duration, error) {
	return c.Interval, nil
}
