package dlq

import "context"

// ListOpts controls pagination for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
}

// Store defines the persistence contract for the dead letter store.
type Store interface {
	// PushDLQ replaces the entry with the same job ID, or inserts it if
	// none exists. Pushing the same entry twice leaves one entry.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries ordered by FailedAt, oldest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by job ID. It returns
	// queuectl.ErrDLQNotFound when absent.
	GetDLQ(ctx context.Context, jobID string) (*Entry, error)

	// DeleteDLQ removes an entry by job ID. Deleting an absent entry is not
	// an error.
	DeleteDLQ(ctx context.Context, jobID string) error

	// CountDLQ returns the total number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}
