package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/job"
)

// EnqueueJob stores the job as a Hash and indexes it by state. Pending
// jobs also enter the ready or scheduled Sorted Set.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	fields := jobToMap(j)

	queue, score := "", ""
	if j.State == job.StatePending {
		queue, score = readyKey, fields["created_score"]
		if j.NextRunAt != nil {
			queue, score = scheduledKey, fields["next_run_score"]
		}
	}

	args := []any{j.ID, score}
	for k, v := range fields {
		args = append(args, k, v)
	}

	ok, err := enqueueScript.Run(ctx, s.client,
		[]string{jobKey(j.ID), stateKey(string(j.State)), queue},
		args...,
	).Int()
	if err != nil {
		return wrap("enqueue job", err)
	}
	if ok == 0 {
		return fmt.Errorf("queuectl/redis: enqueue job %q: %w", j.ID, queuectl.ErrDuplicateJobID)
	}
	return nil
}

// ClaimJob atomically claims the oldest eligible pending job.
func (s *Store) ClaimJob(ctx context.Context, now time.Time, claimedBy string) (*job.Job, error) {
	jobID, err := claimScript.Run(ctx, s.client,
		[]string{readyKey, scheduledKey, stateKey(string(job.StatePending)), stateKey(string(job.StateProcessing))},
		score(now), formatTime(now), claimedBy, jobKeyPrefix,
	).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, wrap("claim job", err)
	}
	return s.getJob(ctx, jobID)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	return s.getJob(ctx, jobID)
}

// CompleteJob marks a job held by claimedBy completed.
func (s *Store) CompleteJob(ctx context.Context, jobID, claimedBy string, now time.Time) error {
	return s.transition(ctx, "complete job", jobID, job.StateCompleted, now,
		job.StateProcessing, claimedBy, "keep", "")
}

// RescheduleJob returns a job held by claimedBy to pending, eligible from
// nextRunAt.
func (s *Store) RescheduleJob(ctx context.Context, jobID, claimedBy string, nextRunAt, now time.Time) error {
	return s.transition(ctx, "reschedule job", jobID, job.StatePending, now,
		job.StateProcessing, claimedBy, formatTime(nextRunAt), score(nextRunAt))
}

func (s *Store) transition(
	ctx context.Context,
	op, jobID string,
	to job.State,
	now time.Time,
	expect job.State,
	claimedBy, next, nextScore string,
) error {
	res, err := transitionScript.Run(ctx, s.client,
		[]string{jobKey(jobID), readyKey, scheduledKey},
		jobID, stateKeyPrefix, string(to), formatTime(now), string(expect), next, nextScore, claimedBy,
	).Int()
	if err != nil {
		return wrap(op, err)
	}
	return scriptResult(op, jobID, res)
}

// scriptResult maps the 1/0/-1 replies of the transition and delete
// scripts to errors.
func scriptResult(op, jobID string, res int) error {
	switch res {
	case 1:
		return nil
	case 0:
		return queuectl.ErrJobNotFound
	default:
		return fmt.Errorf("queuectl/redis: %s %q: %w", op, jobID, queuectl.ErrClaimLost)
	}
}

// DeleteJob removes a job by ID. Deleting a missing job is not an error.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	return s.deleteJob(ctx, "delete job", jobID, "")
}

// DeleteClaimedJob removes a job only while claimedBy holds it.
func (s *Store) DeleteClaimedJob(ctx context.Context, jobID, claimedBy string) error {
	return s.deleteJob(ctx, "delete claimed job", jobID, claimedBy)
}

func (s *Store) deleteJob(ctx context.Context, op, jobID, claimedBy string) error {
	res, err := deleteScript.Run(ctx, s.client,
		[]string{jobKey(jobID), readyKey, scheduledKey},
		jobID, stateKeyPrefix, claimedBy,
	).Int()
	if err != nil {
		return wrap(op, err)
	}
	if err := scriptResult(op, jobID, res); !errors.Is(err, queuectl.ErrJobNotFound) {
		return err
	}
	return nil
}

// ListJobsByState returns jobs in the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, stateKey(string(state))).Result()
	if err != nil {
		return nil, wrap("list jobs smembers", err)
	}

	jobs, err := s.loadJobs(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
	return paginate(jobs, opts.Offset, opts.Limit), nil
}

// CountJobsByState returns the size of each state Set.
func (s *Store) CountJobsByState(ctx context.Context) (map[job.State]int64, error) {
	pipe := s.client.Pipeline()
	cmds := make(map[job.State]*goredis.IntCmd, len(job.States))
	for _, st := range job.States {
		cmds[st] = pipe.SCard(ctx, stateKey(string(st)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrap("count jobs", err)
	}

	counts := make(map[job.State]int64)
	for st, cmd := range cmds {
		if n := cmd.Val(); n > 0 {
			counts[st] = n
		}
	}
	return counts, nil
}

// RequeueStaleJobs returns processing jobs last updated before olderThan
// to pending. A job that leaves processing concurrently is skipped.
func (s *Store) RequeueStaleJobs(ctx context.Context, olderThan, now time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, stateKey(string(job.StateProcessing))).Result()
	if err != nil {
		return 0, wrap("requeue stale smembers", err)
	}
	jobs, err := s.loadJobs(ctx, ids)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, j := range jobs {
		if !j.UpdatedAt.Before(olderThan) {
			continue
		}
		err := s.transition(ctx, "requeue stale job", j.ID, job.StatePending, now,
			job.StateProcessing, j.ClaimedBy, "clear", "")
		if errors.Is(err, queuectl.ErrJobNotFound) || errors.Is(err, queuectl.ErrClaimLost) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Store) getJob(ctx context.Context, jobID string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, wrap("get job", err)
	}
	if len(vals) == 0 {
		return nil, queuectl.ErrJobNotFound
	}
	return mapToJob(vals), nil
}

// loadJobs fetches the Hashes for ids in one pipeline, skipping IDs whose
// Hash has since been deleted.
func (s *Store) loadJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return []*job.Job{}, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(jID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrap("load jobs", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		if vals := cmd.Val(); len(vals) > 0 {
			jobs = append(jobs, mapToJob(vals))
		}
	}
	return jobs, nil
}

// ──────────────────────────────────────────────────
// Conversion helpers
// ──────────────────────────────────────────────────

func jobToMap(j *job.Job) map[string]string {
	m := map[string]string{
		"id":            j.ID,
		"command":       j.Command,
		"state":         string(j.State),
		"attempts":      strconv.Itoa(j.Attempts),
		"timeout":       strconv.FormatInt(int64(j.Timeout), 10),
		"claimed_by":    j.ClaimedBy,
		"created_at":    formatTime(j.CreatedAt),
		"created_score": score(j.CreatedAt),
		"updated_at":    formatTime(j.UpdatedAt),
	}
	if j.MaxRetries >= 0 {
		m["max_retries"] = strconv.Itoa(j.MaxRetries)
	}
	if j.NextRunAt != nil {
		m["next_run_at"] = formatTime(*j.NextRunAt)
		m["next_run_score"] = score(*j.NextRunAt)
	}
	return m
}

func mapToJob(m map[string]string) *job.Job {
	attempts, _ := strconv.Atoi(m["attempts"])           //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:         m["id"],
		Command:    m["command"],
		State:      job.State(m["state"]),
		Attempts:   attempts,
		MaxRetries: job.InheritMaxRetries,
		Timeout:    time.Duration(timeout),
		ClaimedBy:  m["claimed_by"],
		CreatedAt:  parseTime(m["created_at"]),
		UpdatedAt:  parseTime(m["updated_at"]),
	}
	if v, ok := m["max_retries"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			j.MaxRetries = n
		}
	}
	if v := m["next_run_at"]; v != "" {
		t := parseTime(v)
		j.NextRunAt = &t
	}
	return j
}

// score is the Sorted Set score for t. Microseconds stay exact in a float64.
func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
	return t.UTC()
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
