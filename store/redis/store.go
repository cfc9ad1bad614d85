package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/dlq"
	"github.com/xraph/queuectl/job"
	"github.com/xraph/queuectl/settings"
	"github.com/xraph/queuectl/store"
)

// Compile-time interface checks.
var (
	_ store.Store    = (*Store)(nil)
	_ job.Store      = (*Store)(nil)
	_ dlq.Store      = (*Store)(nil)
	_ settings.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.Cmdable
	closer func() error
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open creates a client for a redis:// URL. Connections are dialed on
// first use. The returned Store owns the client and closes it on Close.
func Open(url string, opts ...Option) (*Store, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("queuectl/redis: parse url: %w", err)
	}
	client := goredis.NewClient(o)

	s := New(client, opts...)
	s.closer = client.Close
	return s, nil
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate seeds the default settings without overwriting stored values.
// Redis needs no schema.
func (s *Store) Migrate(ctx context.Context) error {
	for key, value := range settings.Defaults() {
		if err := s.client.HSetNX(ctx, settingsKey, key, value).Err(); err != nil {
			return fmt.Errorf("queuectl/redis: seed setting %s: %w: %w", key, queuectl.ErrMigrationFailed, err)
		}
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queuectl/redis: ping: %w: %w", queuectl.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the client when the store opened it.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// wrap annotates err with the operation and marks connectivity failures
// with queuectl.ErrStoreUnavailable.
func wrap(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, goredis.ErrClosed) {
		return fmt.Errorf("queuectl/redis: %s: %w: %w", op, queuectl.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("queuectl/redis: %s: %w", op, err)
}
