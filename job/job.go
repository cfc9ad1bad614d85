package job

import (
	"fmt"
	"time"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be claimed by a worker.
	StatePending State = "pending"
	// StateProcessing means a worker has claimed the job and is running it.
	StateProcessing State = "processing"
	// StateCompleted means the command exited with status zero.
	StateCompleted State = "completed"
	// StateDead means the job exhausted its retries. Only dead letter
	// entries carry this state; the active queue never does.
	StateDead State = "dead"
)

// States lists every state in lifecycle order.
var States = []State{StatePending, StateProcessing, StateCompleted, StateDead}

// ParseState converts s into a State.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("job: unknown state %q", s)
}

// InheritMaxRetries marks a job whose retry limit falls back to the
// configured max_retries default.
const InheritMaxRetries = -1

// Job is a shell command tracked by the queue.
type Job struct {
	ID         string        `json:"id"`
	Command    string        `json:"command"`
	State      State         `json:"state"`
	Attempts   int           `json:"attempts"`
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	ClaimedBy  string        `json:"claimed_by,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	NextRunAt  *time.Time    `json:"next_run_at,omitempty"`
}

// RetryLimit returns the job's own retry limit, or def when the job
// inherits the configured default.
func (j *Job) RetryLimit(def int) int {
	if j.MaxRetries < 0 {
		return def
	}
	return j.MaxRetries
}

// Exhausted reports whether a failed run at the current attempt count
// should move the job to the dead letter store.
func (j *Job) Exhausted(def int) bool {
	return j.Attempts >= j.RetryLimit(def)
}

// Eligible reports whether a pending job may be claimed at now.
func (j *Job) Eligible(now time.Time) bool {
	return j.State == StatePending && (j.NextRunAt == nil || !j.NextRunAt.After(now))
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	if j.NextRunAt != nil {
		t := *j.NextRunAt
		cp.NextRunAt = &t
	}
	return &cp
}
