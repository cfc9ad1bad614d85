// Package store defines the aggregate persistence interface. Each subsystem
// (job, dlq, settings) defines its own store interface. The composite Store
// composes them all. Backends: MongoDB, PostgreSQL, Redis, and Memory.
package store

import (
	"context"

	"github.com/xraph/queuectl/dlq"
	"github.com/xraph/queuectl/job"
	"github.com/xraph/queuectl/settings"
)

// Store is the aggregate persistence interface.
// A single backend (mongo, postgres, redis, memory) implements all of them.
type Store interface {
	job.Store
	dlq.Store
	settings.Store

	// Migrate creates indexes, tables or seed data the backend needs.
	// It is idempotent.
	Migrate(ctx context.Context) error

	// Ping checks connectivity. Failures wrap queuectl.ErrStoreUnavailable.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
