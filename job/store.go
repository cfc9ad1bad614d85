package job

import (
	"context"
	"time"
)

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Store defines the persistence contract for the active queue.
type Store interface {
	// EnqueueJob inserts a new job. It returns queuectl.ErrDuplicateJobID
	// if a job with the same ID already exists.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimJob atomically selects the oldest pending job (by CreatedAt)
	// whose NextRunAt is unset or not after now, marks it processing,
	// increments Attempts, records claimedBy and returns the updated job.
	// It returns nil, nil when no job is eligible. At most one concurrent
	// caller can claim a given job.
	ClaimJob(ctx context.Context, now time.Time, claimedBy string) (*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// CompleteJob marks a job completed. The job must be processing and
	// claimed by claimedBy; otherwise it is left untouched and the call
	// returns queuectl.ErrClaimLost (or queuectl.ErrJobNotFound when the
	// job does not exist).
	CompleteJob(ctx context.Context, jobID, claimedBy string, now time.Time) error

	// RescheduleJob returns a job held by claimedBy to pending, eligible
	// again at nextRunAt. Attempts are left untouched. Ownership is checked
	// as in CompleteJob.
	RescheduleJob(ctx context.Context, jobID, claimedBy string, nextRunAt, now time.Time) error

	// DeleteJob removes a job by ID. Deleting an absent job is not an error.
	DeleteJob(ctx context.Context, jobID string) error

	// DeleteClaimedJob removes a job only while it is processing and held
	// by claimedBy. It returns queuectl.ErrClaimLost when the job exists
	// under another claim or state, and nil when it is already gone.
	DeleteClaimedJob(ctx context.Context, jobID, claimedBy string) error

	// ListJobsByState returns jobs in the given state, oldest first.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobsByState returns the number of active jobs per state.
	// States with no jobs may be absent from the map.
	CountJobsByState(ctx context.Context) (map[State]int64, error)

	// RequeueStaleJobs returns processing jobs whose UpdatedAt is before
	// olderThan to pending and reports how many were requeued.
	RequeueStaleJobs(ctx context.Context, olderThan, now time.Time) (int64, error)
}
