// Package id generates identifiers for queuectl jobs and workers.
//
// Job IDs are caller-supplied free-form strings. When a producer omits one,
// the queue generates "job-" followed by a KSUID, which is K-sortable and
// carries its creation second in the prefix.
package id

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
)

// Prefix identifies what a generated identifier names.
type Prefix string

const (
	PrefixJob    Prefix = "job"
	PrefixWorker Prefix = "wkr"
)

// MaxLen bounds caller-supplied job IDs so they remain usable as
// document keys and Redis key suffixes.
const MaxLen = 256

// New generates a new identifier with the given prefix.
func New(prefix Prefix) string {
	return string(prefix) + "-" + ksuid.New().String()
}

// NewJobID generates a new unique job ID.
func NewJobID() string { return New(PrefixJob) }

// NewWorkerID returns the identity a worker process records on the jobs it
// claims: host, PID and the supervisor-assigned index.
func NewWorkerID(index int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%s:%d:%d", PrefixWorker, host, os.Getpid(), index)
}

// Validate reports whether s is acceptable as a job ID.
func Validate(s string) error {
	switch {
	case strings.TrimSpace(s) == "":
		return fmt.Errorf("id: empty job id")
	case len(s) > MaxLen:
		return fmt.Errorf("id: job id longer than %d bytes", MaxLen)
	case strings.ContainsAny(s, "\x00\n\r"):
		return fmt.Errorf("id: job id %q contains control characters", s)
	}
	return nil
}

// Time extracts the creation time from a generated ID. It reports false
// for caller-supplied IDs that were not produced by New.
func Time(s string) (time.Time, bool) {
	_, suffix, ok := strings.Cut(s, "-")
	if !ok {
		return time.Time{}, false
	}
	k, err := ksuid.Parse(suffix)
	if err != nil {
		return time.Time{}, false
	}
	return k.Time(), true
}
