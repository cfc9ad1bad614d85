package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/job"
)

const jobColumns = `id, command, state, attempts, max_retries, timeout_ms,
	claimed_by, created_at, updated_at, next_run_at`

// EnqueueJob persists a new job. An existing ID returns
// queuectl.ErrDuplicateJobID and leaves the stored job unchanged.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queuectl_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		jobArgs(j)...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("queuectl/postgres: enqueue job %q: %w", j.ID, queuectl.ErrDuplicateJobID)
		}
		return wrap("enqueue job", err)
	}
	return nil
}

// ClaimJob atomically moves the oldest eligible pending job to processing.
// Rows locked by a concurrent claimer are skipped rather than waited on.
func (s *Store) ClaimJob(ctx context.Context, now time.Time, claimedBy string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE queuectl_jobs
		SET state = 'processing', attempts = attempts + 1,
		    updated_at = $1, claimed_by = $2
		WHERE id = (
			SELECT id FROM queuectl_jobs
			WHERE state = 'pending'
			  AND (next_run_at IS NULL OR next_run_at <= $1)
			ORDER BY created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		now.UTC(), claimedBy,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, wrap("claim job", err)
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM queuectl_jobs WHERE id = $1`, jobID)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, queuectl.ErrJobNotFound
		}
		return nil, wrap("get job", err)
	}
	return j, nil
}

// CompleteJob marks a job held by claimedBy completed.
func (s *Store) CompleteJob(ctx context.Context, jobID, claimedBy string, now time.Time) error {
	return s.execClaimed(ctx, "complete job", jobID, `
		UPDATE queuectl_jobs
		SET state = 'completed', claimed_by = '', updated_at = $3
		WHERE id = $1 AND state = 'processing' AND claimed_by = $2`,
		jobID, claimedBy, now.UTC(),
	)
}

// RescheduleJob returns a job held by claimedBy to pending, eligible from
// nextRunAt.
func (s *Store) RescheduleJob(ctx context.Context, jobID, claimedBy string, nextRunAt, now time.Time) error {
	return s.execClaimed(ctx, "reschedule job", jobID, `
		UPDATE queuectl_jobs
		SET state = 'pending', claimed_by = '', next_run_at = $3, updated_at = $4
		WHERE id = $1 AND state = 'processing' AND claimed_by = $2`,
		jobID, claimedBy, nextRunAt.UTC(), now.UTC(),
	)
}

// execClaimed runs a statement conditioned on the claim. When it touches
// no row, the job is either gone or held under another claim.
func (s *Store) execClaimed(ctx context.Context, op, jobID, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return wrap(op, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM queuectl_jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return wrap(op, err)
	}
	if !exists {
		return queuectl.ErrJobNotFound
	}
	return fmt.Errorf("queuectl/postgres: %s %q: %w", op, jobID, queuectl.ErrClaimLost)
}

// DeleteJob removes a job by ID. Deleting a missing job is not an error.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM queuectl_jobs WHERE id = $1`, jobID); err != nil {
		return wrap("delete job", err)
	}
	return nil
}

// DeleteClaimedJob removes a job only while claimedBy holds it.
func (s *Store) DeleteClaimedJob(ctx context.Context, jobID, claimedBy string) error {
	err := s.execClaimed(ctx, "delete claimed job", jobID, `
		DELETE FROM queuectl_jobs
		WHERE id = $1 AND state = 'processing' AND claimed_by = $2`,
		jobID, claimedBy,
	)
	if errors.Is(err, queuectl.ErrJobNotFound) {
		return nil
	}
	return err
}

// ListJobsByState returns jobs in the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM queuectl_jobs WHERE state = $1 ORDER BY created_at ASC, id ASC`
	args := []any{string(state)}
	query, args = paginate(query, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list jobs by state", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobsByState groups the active queue by state.
func (s *Store) CountJobsByState(ctx context.Context) (map[job.State]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, COUNT(*) FROM queuectl_jobs GROUP BY state`)
	if err != nil {
		return nil, wrap("count jobs by state", err)
	}
	defer rows.Close()

	counts := make(map[job.State]int64)
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, wrap("scan count row", err)
		}
		counts[job.State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate count rows", err)
	}
	return counts, nil
}

// RequeueStaleJobs returns processing jobs last updated before olderThan
// to pending.
func (s *Store) RequeueStaleJobs(ctx context.Context, olderThan, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queuectl_jobs
		SET state = 'pending', claimed_by = '', next_run_at = NULL, updated_at = $2
		WHERE state = 'processing' AND updated_at < $1`,
		olderThan.UTC(), now.UTC(),
	)
	if err != nil {
		return 0, wrap("requeue stale jobs", err)
	}
	return tag.RowsAffected(), nil
}

// jobArgs returns the values for jobColumns, in order.
func jobArgs(j *job.Job) []any {
	var maxRetries *int
	if j.MaxRetries >= 0 {
		n := j.MaxRetries
		maxRetries = &n
	}
	var nextRunAt *time.Time
	if j.NextRunAt != nil {
		t := j.NextRunAt.UTC()
		nextRunAt = &t
	}
	return []any{
		j.ID, j.Command, string(j.State), j.Attempts, maxRetries,
		j.Timeout.Milliseconds(), j.ClaimedBy,
		j.CreatedAt.UTC(), j.UpdatedAt.UTC(), nextRunAt,
	}
}

// scanJob scans a single row selected with jobColumns. extra receives any
// columns that follow them.
func scanJob(row pgx.Row, extra ...any) (*job.Job, error) {
	var (
		j          job.Job
		state      string
		maxRetries *int
		timeoutMS  int64
	)
	dest := []any{
		&j.ID, &j.Command, &state, &j.Attempts, &maxRetries, &timeoutMS,
		&j.ClaimedBy, &j.CreatedAt, &j.UpdatedAt, &j.NextRunAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	j.State = job.State(state)
	j.Timeout = time.Duration(timeoutMS) * time.Millisecond
	j.MaxRetries = job.InheritMaxRetries
	if maxRetries != nil {
		j.MaxRetries = *maxRetries
	}
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	if j.NextRunAt != nil {
		t := j.NextRunAt.UTC()
		j.NextRunAt = &t
	}
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrap("scan job row", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate job rows", err)
	}
	return jobs, nil
}

// paginate appends LIMIT and OFFSET placeholders to query.
func paginate(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
