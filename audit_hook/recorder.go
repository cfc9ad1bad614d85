package audithook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// JSONLines writes one JSON object per event. Writes are serialized, so a
// file opened with O_APPEND can be shared by several worker processes
// without interleaving records.
type JSONLines struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLines returns a Recorder writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{w: w}
}

// Record implements Recorder.
func (j *JSONLines) Record(_ context.Context, event *AuditEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audithook: encode event: %w", err)
	}
	b = append(b, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.w.Write(b); err != nil {
		return fmt.Errorf("audithook: write event: %w", err)
	}
	return nil
}
