package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/dlq"
)

// PushDLQ replaces or inserts the entry for the job ID.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	fields := jobToMap(&entry.Job)
	fields["last_error"] = entry.LastError
	fields["failed_at"] = formatTime(entry.FailedAt)

	key := dlqKey(entry.ID)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.ZAdd(ctx, dlqIndexKey, goredis.Z{Score: float64(entry.FailedAt.UnixMicro()), Member: entry.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("push dlq", err)
	}
	return nil
}

// ListDLQ returns entries, oldest failure first. Equal failure times fall
// back to the lexical order of job IDs.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}
	ids, err := s.client.ZRange(ctx, dlqIndexKey, start, stop).Result()
	if err != nil {
		return nil, wrap("list dlq", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	if len(ids) == 0 {
		return entries, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, eID := range ids {
		cmds[i] = pipe.HGetAll(ctx, dlqKey(eID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrap("load dlq", err)
	}
	for _, cmd := range cmds {
		if vals := cmd.Val(); len(vals) > 0 {
			entries = append(entries, mapToDLQ(vals))
		}
	}
	return entries, nil
}

// GetDLQ retrieves an entry by job ID.
func (s *Store) GetDLQ(ctx context.Context, jobID string) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(jobID)).Result()
	if err != nil {
		return nil, wrap("get dlq", err)
	}
	if len(vals) == 0 {
		return nil, queuectl.ErrDLQNotFound
	}
	return mapToDLQ(vals), nil
}

// DeleteDLQ removes an entry. Deleting a missing entry is not an error.
func (s *Store) DeleteDLQ(ctx context.Context, jobID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, dlqKey(jobID))
	pipe.ZRem(ctx, dlqIndexKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("delete dlq", err)
	}
	return nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, dlqIndexKey).Result()
	if err != nil {
		return 0, wrap("count dlq", err)
	}
	return n, nil
}

func mapToDLQ(m map[string]string) *dlq.Entry {
	return &dlq.Entry{
		Job:       *mapToJob(m),
		LastError: m["last_error"],
		FailedAt:  parseTime(m["failed_at"]),
	}
}
