package queuectl

import (
	"context"
	"log/slog"
)

// Storer is the minimal store interface held by the Queue. It covers
// lifecycle operations only; store.Store embeds it together with every
// subsystem store, but cannot be named here without an import cycle.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Option configures a Queue.
type Option func(*Queue) error

// Queue holds the process-wide pieces every queuectl component shares:
// configuration, the root logger and the store connection. The engine
// package builds the job lifecycle on top of it.
type Queue struct {
	config Config
	logger *slog.Logger
	store  Storer
}

// New creates a Queue with the given options.
func New(opts ...Option) (*Queue, error) {
	q := &Queue{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Logger returns the queue's logger.
func (q *Queue) Logger() *slog.Logger { return q.logger }

// Store returns the queue's store.
func (q *Queue) Store() Storer { return q.store }

// Config returns a copy of the queue's configuration.
func (q *Queue) Config() Config { return q.config }

// Close releases the store connection.
func (q *Queue) Close() error {
	if q.store == nil {
		return nil
	}
	return q.store.Close()
}

// WithConfig replaces the process configuration.
func WithConfig(cfg Config) Option {
	return func(q *Queue) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		q.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) error {
		if l != nil {
			q.logger = l
		}
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement Storer
// at minimum; engine.Build requires a full store.Store.
func WithStore(s Storer) Option {
	return func(q *Queue) error {
		q.store = s
		return nil
	}
}
