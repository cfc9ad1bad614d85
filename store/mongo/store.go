package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/dlq"
	"github.com/xraph/queuectl/job"
	"github.com/xraph/queuectl/settings"
	"github.com/xraph/queuectl/store"
)

// Collection name constants.
const (
	colJobs   = "jobs"
	colDLQ    = "dlq"
	colConfig = "config"
)

const closeTimeout = 5 * time.Second

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ store.Store    = (*Store)(nil)
	_ job.Store      = (*Store)(nil)
	_ dlq.Store      = (*Store)(nil)
	_ settings.Store = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	db     *mongod.Database
	client *mongod.Client // set only when Open created the client
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store on db. The caller owns the client; Close does not
// disconnect it.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a client for uri and returns a store on the named database.
// The driver connects lazily, so an unreachable server surfaces on the
// first Ping or operation. The store owns the client and disconnects it on
// Close.
func Open(uri, dbName string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("queuectl/mongo: connect: %w", err)
	}
	s := New(client.Database(dbName), opts...)
	s.client = client
	return s, nil
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates the collection indexes and seeds default settings
// without overwriting values that are already set.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("queuectl/mongo: migrate %s indexes: %w: %w", col, queuectl.ErrMigrationFailed, err)
		}
	}

	for key, value := range settings.Defaults() {
		_, err := s.db.Collection(colConfig).UpdateOne(ctx,
			bson.M{"_id": key},
			bson.M{"$setOnInsert": bson.M{"value": value}},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("queuectl/mongo: seed setting %q: %w: %w", key, queuectl.ErrMigrationFailed, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("queuectl/mongo: ping: %w: %w", queuectl.ErrStoreUnavailable, err)
	}
	return nil
}

// Close disconnects the client if the store created it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// wrap annotates err with the operation and marks connectivity failures
// with queuectl.ErrStoreUnavailable.
func wrap(op string, err error) error {
	if mongod.IsNetworkError(err) || mongod.IsTimeout(err) || errors.Is(err, mongod.ErrClientDisconnected) {
		return fmt.Errorf("queuectl/mongo: %s: %w: %w", op, queuectl.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("queuectl/mongo: %s: %w", op, err)
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			// Claim index: state + next_run_at + created_at.
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "next_run_at", Value: 1},
				{Key: "created_at", Value: 1},
			}},
			// Listing by state in creation order.
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "created_at", Value: 1},
			}},
			// Stale processing jobs.
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "updated_at", Value: 1},
			}},
		},
		colDLQ: {
			{Keys: bson.D{{Key: "failed_at", Value: 1}}},
		},
	}
}
