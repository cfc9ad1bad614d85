package dlq

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xraph/queuectl/job"
)

// MaxErrorLen bounds the stored LastError so a chatty command cannot bloat
// the dead letter store.
const MaxErrorLen = 8 << 10

// Entry is a snapshot of a job that exhausted its retries. The embedded
// job always has State job.StateDead, and LastError is never empty.
type Entry struct {
	job.Job

	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

// NewEntry builds a dead letter entry from j. An empty reason is replaced
// with a generic message so every entry explains its failure.
func NewEntry(j *job.Job, reason string, now time.Time) *Entry {
	snap := j.Clone()
	snap.State = job.StateDead
	snap.ClaimedBy = ""
	snap.UpdatedAt = now

	if reason == "" {
		reason = "command failed"
	}

	return &Entry{Job: *snap, LastError: truncateError(reason), FailedAt: now}
}

// truncateError makes reason valid UTF-8 and cuts it to at most
// MaxErrorLen bytes on a rune boundary. Text columns reject invalid UTF-8,
// and command stderr may be arbitrary bytes.
func truncateError(reason string) string {
	reason = strings.ToValidUTF8(reason, string(utf8.RuneError))
	if len(reason) <= MaxErrorLen {
		return reason
	}
	n := MaxErrorLen
	for n > 0 && !utf8.RuneStart(reason[n]) {
		n--
	}
	return reason[:n]
}

// Requeue returns the job to put back on the active queue when the entry
// is retried: pending, zero attempts, eligible immediately. The ID,
// command, retry limit and creation time are preserved.
func (e *Entry) Requeue(now time.Time) *job.Job {
	j := e.Job.Clone()
	j.State = job.StatePending
	j.Attempts = 0
	j.NextRunAt = nil
	j.ClaimedBy = ""
	j.UpdatedAt = now
	return j
}
