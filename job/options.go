package job

import "time"

// Options configures a job at enqueue time.
type Options struct {
	// ID is the caller-supplied job ID. Empty means generate one.
	ID string

	// MaxRetries is the number of failed attempts after which the job is
	// dead-lettered. InheritMaxRetries uses the configured default.
	MaxRetries int

	// Timeout bounds a single run of the command. Zero means the worker
	// default.
	Timeout time.Duration
}

// DefaultOptions returns Options that inherit every configured default.
func DefaultOptions() Options {
	return Options{MaxRetries: InheritMaxRetries}
}

// Option is a functional option for configuring an enqueued job.
type Option func(*Options)

// WithID sets the job ID.
func WithID(id string) Option {
	return func(o *Options) {
		o.ID = id
	}
}

// WithMaxRetries sets the retry limit for the job.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithTimeout sets the maximum execution duration for one attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
