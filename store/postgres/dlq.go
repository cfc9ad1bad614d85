package postgres

import (
	"context"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/dlq"
)

// PushDLQ replaces or inserts the entry with the same job ID.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	args := append(jobArgs(&entry.Job), entry.LastError, entry.FailedAt.UTC())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queuectl_dlq (`+jobColumns+`, last_error, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			command = EXCLUDED.command, state = EXCLUDED.state,
			attempts = EXCLUDED.attempts, max_retries = EXCLUDED.max_retries,
			timeout_ms = EXCLUDED.timeout_ms, claimed_by = EXCLUDED.claimed_by,
			created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at,
			next_run_at = EXCLUDED.next_run_at, last_error = EXCLUDED.last_error,
			failed_at = EXCLUDED.failed_at`,
		args...,
	)
	if err != nil {
		return wrap("push dlq", err)
	}
	return nil
}

// ListDLQ returns entries, oldest failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query, args := paginate(
		`SELECT `+jobColumns+`, last_error, failed_at FROM queuectl_dlq ORDER BY failed_at ASC, id ASC`,
		nil, opts.Limit, opts.Offset,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list dlq", err)
	}
	defer rows.Close()

	entries := make([]*dlq.Entry, 0)
	for rows.Next() {
		var e dlq.Entry
		j, err := scanJob(rows, &e.LastError, &e.FailedAt)
		if err != nil {
			return nil, wrap("scan dlq row", err)
		}
		e.Job = *j
		e.FailedAt = e.FailedAt.UTC()
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate dlq rows", err)
	}
	return entries, nil
}

// GetDLQ retrieves an entry by job ID.
func (s *Store) GetDLQ(ctx context.Context, jobID string) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+`, last_error, failed_at FROM queuectl_dlq WHERE id = $1`,
		jobID,
	)
	var e dlq.Entry
	j, err := scanJob(row, &e.LastError, &e.FailedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, queuectl.ErrDLQNotFound
		}
		return nil, wrap("get dlq", err)
	}
	e.Job = *j
	e.FailedAt = e.FailedAt.UTC()
	return &e, nil
}

// DeleteDLQ removes an entry. Deleting a missing entry is not an error.
func (s *Store) DeleteDLQ(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM queuectl_dlq WHERE id = $1`, jobID); err != nil {
		return wrap("delete dlq", err)
	}
	return nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queuectl_dlq`).Scan(&n); err != nil {
		return 0, wrap("count dlq", err)
	}
	return n, nil
}
