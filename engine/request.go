package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/job"
)

// EnqueueRequest is the job description accepted by `queuectl enqueue`.
type EnqueueRequest struct {
	ID         string `json:"id,omitempty"`
	Command    string `json:"command"`
	MaxRetries *int   `json:"max_retries,omitempty"`

	// Timeout bounds each run of the command. Zero uses the worker default.
	Timeout time.Duration `json:"-"`
}

type enqueueWire struct {
	ID         string `json:"id"`
	Command    string `json:"command"`
	MaxRetries *int   `json:"max_retries"`
	Timeout    string `json:"timeout"`
}

// ParseEnqueueRequest decodes a JSON job description. Strict JSON is tried
// first; if that fails, single quotes are swapped for double quotes and
// the input is decoded again, so shell-friendly input such as
// {'id':'a','command':'sleep 1'} is accepted.
func ParseEnqueueRequest(raw string) (EnqueueRequest, error) {
	raw = strings.TrimSpace(raw)
	var w enqueueWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		normalized := strings.ReplaceAll(raw, "'", `"`)
		if err2 := json.Unmarshal([]byte(normalized), &w); err2 != nil {
			return EnqueueRequest{}, fmt.Errorf("%w: invalid JSON: %w", queuectl.ErrInvalidJob, err)
		}
	}

	req := EnqueueRequest{ID: w.ID, Command: w.Command, MaxRetries: w.MaxRetries}
	if w.Timeout != "" {
		d, err := time.ParseDuration(w.Timeout)
		if err != nil {
			return EnqueueRequest{}, fmt.Errorf("%w: timeout: %w", queuectl.ErrInvalidJob, err)
		}
		req.Timeout = d
	}
	if err := req.Validate(); err != nil {
		return EnqueueRequest{}, err
	}
	return req, nil
}

// Validate checks the fields that can be checked without the store.
func (r EnqueueRequest) Validate() error {
	if strings.TrimSpace(r.Command) == "" {
		return fmt.Errorf("%w: command is required", queuectl.ErrInvalidJob)
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", queuectl.ErrInvalidJob)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", queuectl.ErrInvalidJob)
	}
	return nil
}

// Options converts the request to job options. An absent max_retries
// inherits the configured default.
func (r EnqueueRequest) Options() []job.Option {
	var opts []job.Option
	if r.ID != "" {
		opts = append(opts, job.WithID(r.ID))
	}
	if r.MaxRetries != nil {
		opts = append(opts, job.WithMaxRetries(*r.MaxRetries))
	}
	if r.Timeout > 0 {
		opts = append(opts, job.WithTimeout(r.Timeout))
	}
	return opts
}
