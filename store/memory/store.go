// Package memory provides an in-memory store.Store. A single mutex
// serializes every operation, which makes ClaimJob trivially atomic; it is
// the reference behaviour the other backends are tested against.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

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

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.Mutex

	jobs     map[string]*job.Job
	dlqs     map[string]*dlq.Entry
	settings map[string]string

	// failNext makes the next operation return the error. Test hook.
	failNext error
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:     make(map[string]*job.Job),
		dlqs:     make(map[string]*dlq.Entry),
		settings: make(map[string]string),
	}
}

// FailNext makes the next store call return err wrapped with
// queuectl.ErrStoreUnavailable. It simulates a lost connection in tests.
func (m *Store) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// takeFailure must be called with mu held.
func (m *Store) takeFailure(op string) error {
	if m.failNext == nil {
		return nil
	}
	err := m.failNext
	m.failNext = nil
	return fmt.Errorf("queuectl/memory: %s: %w: %w", op, queuectl.ErrStoreUnavailable, err)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping succeeds unless a failure was injected with FailNext.
func (m *Store) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takeFailure("ping")
}

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob inserts a new job.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("enqueue job"); err != nil {
		return err
	}
	if _, exists := m.jobs[j.ID]; exists {
		return fmt.Errorf("queuectl/memory: enqueue %q: %w", j.ID, queuectl.ErrDuplicateJobID)
	}
	m.jobs[j.ID] = j.Clone()
	return nil
}

// ClaimJob claims the oldest eligible pending job.
func (m *Store) ClaimJob(_ context.Context, now time.Time, claimedBy string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("claim job"); err != nil {
		return nil, err
	}

	var oldest *job.Job
	for _, j := range m.jobs {
		if !j.Eligible(now) {
			continue
		}
		if oldest == nil || older(j, oldest) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.State = job.StateProcessing
	oldest.Attempts++
	oldest.ClaimedBy = claimedBy
	oldest.UpdatedAt = now
	return oldest.Clone(), nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("get job"); err != nil {
		return nil, err
	}
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, queuectl.ErrJobNotFound
	}
	return j.Clone(), nil
}

// CompleteJob marks a job held by claimedBy completed.
func (m *Store) CompleteJob(_ context.Context, jobID, claimedBy string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("complete job"); err != nil {
		return err
	}
	j, err := m.claimed(jobID, claimedBy)
	if err != nil {
		return err
	}
	j.State = job.StateCompleted
	j.ClaimedBy = ""
	j.UpdatedAt = now
	return nil
}

// RescheduleJob returns a job held by claimedBy to pending with a future
// run time.
func (m *Store) RescheduleJob(_ context.Context, jobID, claimedBy string, nextRunAt, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("reschedule job"); err != nil {
		return err
	}
	j, err := m.claimed(jobID, claimedBy)
	if err != nil {
		return err
	}
	next := nextRunAt
	j.State = job.StatePending
	j.NextRunAt = &next
	j.ClaimedBy = ""
	j.UpdatedAt = now
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("delete job"); err != nil {
		return err
	}
	delete(m.jobs, jobID)
	return nil
}

// DeleteClaimedJob removes a job only while claimedBy holds it.
func (m *Store) DeleteClaimedJob(_ context.Context, jobID, claimedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("delete claimed job"); err != nil {
		return err
	}
	if _, err := m.claimed(jobID, claimedBy); err != nil {
		if errors.Is(err, queuectl.ErrJobNotFound) {
			return nil
		}
		return err
	}
	delete(m.jobs, jobID)
	return nil
}

// claimed returns the job if claimedBy holds it. Must be called with mu
// held.
func (m *Store) claimed(jobID, claimedBy string) (*job.Job, error) {
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, queuectl.ErrJobNotFound
	}
	if j.State != job.StateProcessing || j.ClaimedBy != claimedBy {
		return nil, queuectl.ErrClaimLost
	}
	return j, nil
}

// ListJobsByState returns jobs in the given state, oldest first.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("list jobs"); err != nil {
		return nil, err
	}

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State == state {
			result = append(result, j.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool { return older(result[i], result[k]) })
	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountJobsByState returns the number of jobs per state.
func (m *Store) CountJobsByState(_ context.Context) (map[job.State]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("count jobs"); err != nil {
		return nil, err
	}
	counts := make(map[job.State]int64)
	for _, j := range m.jobs {
		counts[j.State]++
	}
	return counts, nil
}

// RequeueStaleJobs returns long-running processing jobs to pending.
func (m *Store) RequeueStaleJobs(_ context.Context, olderThan, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("requeue stale jobs"); err != nil {
		return 0, err
	}
	var n int64
	for _, j := range m.jobs {
		if j.State != job.StateProcessing || !j.UpdatedAt.Before(olderThan) {
			continue
		}
		j.State = job.StatePending
		j.NextRunAt = nil
		j.ClaimedBy = ""
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ replaces or inserts a dead letter entry.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("push dlq"); err != nil {
		return err
	}
	cp := *entry
	cp.Job = *entry.Job.Clone()
	m.dlqs[entry.ID] = &cp
	return nil
}

// ListDLQ returns entries, oldest failure first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("list dlq"); err != nil {
		return nil, err
	}
	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		cp := *e
		cp.Job = *e.Job.Clone()
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		if !result[i].FailedAt.Equal(result[k].FailedAt) {
			return result[i].FailedAt.Before(result[k].FailedAt)
		}
		return result[i].ID < result[k].ID
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves an entry by job ID.
func (m *Store) GetDLQ(_ context.Context, jobID string) (*dlq.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("get dlq"); err != nil {
		return nil, err
	}
	e, ok := m.dlqs[jobID]
	if !ok {
		return nil, queuectl.ErrDLQNotFound
	}
	cp := *e
	cp.Job = *e.Job.Clone()
	return &cp, nil
}

// DeleteDLQ removes an entry by job ID.
func (m *Store) DeleteDLQ(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("delete dlq"); err != nil {
		return err
	}
	delete(m.dlqs, jobID)
	return nil
}

// CountDLQ returns the number of dead letter entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("count dlq"); err != nil {
		return 0, err
	}
	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Settings Store
// ──────────────────────────────────────────────────

// GetSetting returns a stored setting.
func (m *Store) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("get setting"); err != nil {
		return "", false, err
	}
	v, ok := m.settings[key]
	return v, ok, nil
}

// SetSetting stores a setting.
func (m *Store) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("set setting"); err != nil {
		return err
	}
	m.settings[key] = value
	return nil
}

// ListSettings returns every stored setting.
func (m *Store) ListSettings(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("list settings"); err != nil {
		return nil, err
	}
	return maps.Clone(m.settings), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// older orders jobs by creation time, breaking ties by ID.
func older(a, b *job.Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
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
