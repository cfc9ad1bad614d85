package mongo

import (
	"time"

	"github.com/xraph/queuectl/dlq"
	"github.com/xraph/queuectl/job"
)

// ── Job model ─────────────────────────────────────────────────────

// jobModel is the document shape of the jobs collection. max_retries is a
// pointer so documents written without it decode as "inherit the
// configured default".
type jobModel struct {
	ID         string     `bson:"_id"`
	Command    string     `bson:"command"`
	State      string     `bson:"state"`
	Attempts   int        `bson:"attempts"`
	MaxRetries *int       `bson:"max_retries,omitempty"`
	TimeoutMS  int64      `bson:"timeout_ms,omitempty"`
	ClaimedBy  string     `bson:"claimed_by,omitempty"`
	CreatedAt  time.Time  `bson:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at"`
	NextRunAt  *time.Time `bson:"next_run_at"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:        j.ID,
		Command:   j.Command,
		State:     string(j.State),
		Attempts:  j.Attempts,
		TimeoutMS: j.Timeout.Milliseconds(),
		ClaimedBy: j.ClaimedBy,
		CreatedAt: j.CreatedAt.UTC(),
		UpdatedAt: j.UpdatedAt.UTC(),
	}
	if j.MaxRetries >= 0 {
		n := j.MaxRetries
		m.MaxRetries = &n
	}
	if j.NextRunAt != nil {
		t := j.NextRunAt.UTC()
		m.NextRunAt = &t
	}
	return m
}

func fromJobModel(m *jobModel) *job.Job {
	j := &job.Job{
		ID:         m.ID,
		Command:    m.Command,
		State:      job.State(m.State),
		Attempts:   m.Attempts,
		MaxRetries: job.InheritMaxRetries,
		Timeout:    time.Duration(m.TimeoutMS) * time.Millisecond,
		ClaimedBy:  m.ClaimedBy,
		CreatedAt:  m.CreatedAt.UTC(),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
	if m.MaxRetries != nil {
		j.MaxRetries = *m.MaxRetries
	}
	if m.NextRunAt != nil {
		t := m.NextRunAt.UTC()
		j.NextRunAt = &t
	}
	return j
}

// ── DLQ model ─────────────────────────────────────────────────────

// dlqEntryModel is a job snapshot plus the failure that killed it.
type dlqEntryModel struct {
	Job       jobModel  `bson:",inline"`
	LastError string    `bson:"last_error"`
	FailedAt  time.Time `bson:"failed_at"`
}

func toDLQModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		Job:       *toJobModel(&e.Job),
		LastError: e.LastError,
		FailedAt:  e.FailedAt.UTC(),
	}
}

func fromDLQModel(m *dlqEntryModel) *dlq.Entry {
	return &dlq.Entry{
		Job:       *fromJobModel(&m.Job),
		LastError: m.LastError,
		FailedAt:  m.FailedAt.UTC(),
	}
}

// ── Settings model ────────────────────────────────────────────────

type settingModel struct {
	Key   string `bson:"_id"`
	Value string `bson:"value"`
}
