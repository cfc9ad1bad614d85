package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/command"
	"github.com/xraph/queuectl/engine"
	"github.com/xraph/queuectl/store"
	"github.com/xraph/queuectl/store/memory"
)

// testApp returns an app backed by one shared memory store.
func testApp(t *testing.T) (*app, *memory.Store) {
	t.Helper()
	s := memory.New()
	cfg := queuectl.DefaultConfig()
	cfg.Store = "memory"
	cfg.RunDir = t.TempDir()
	cfg.PollInterval = 10 * time.Millisecond

	a := &app{
		loadConfig: func() (queuectl.Config, error) { return cfg, nil },
		openStore: func(context.Context, queuectl.Config, *slog.Logger) (store.Store, error) {
			return s, nil
		},
		logOutput: io.Discard,
		engineOpts: []engine.Option{
			engine.WithRunner(func(_ context.Context, line string) command.Result {
				if line == "true" {
					return command.Result{}
				}
				return command.Result{ExitCode: 1, Stderr: "boom"}
			}),
		},
	}
	return a, s
}

func run(ctx context.Context, a *app, args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestEnqueueAndList(t *testing.T) {
	a, _ := testApp(t)
	ctx := context.Background()

	out, err := run(ctx, a, "enqueue", `{"id":"job1","command":"sleep 2"}`)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !strings.Contains(out, "enqueued job1") {
		t.Errorf("enqueue output = %q", out)
	}

	_, err = run(ctx, a, "enqueue", `{"id":"job1","command":"echo again"}`)
	if !errors.Is(err, queuectl.ErrDuplicateJobID) {
		t.Fatalf("duplicate enqueue: expected ErrDuplicateJobID, got %v", err)
	}

	out, err = run(ctx, a, "list", "--state", "pending")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "job1") || !strings.Contains(out, "sleep 2") {
		t.Errorf("list output missing job1:\n%s", out)
	}
	if strings.Contains(out, "echo again") {
		t.Errorf("duplicate enqueue changed the stored job:\n%s", out)
	}
}

func TestEnqueue_SingleQuotedJSON(t *testing.T) {
	a, s := testApp(t)
	ctx := context.Background()

	if _, err := run(ctx, a, "enqueue", `{'id':'q1','command':'true','max_retries':2}`); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	j, err := s.GetJob(ctx, "q1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", j.MaxRetries)
	}
}

func TestEnqueue_Invalid(t *testing.T) {
	a, _ := testApp(t)
	for _, raw := range []string{`{"id":"x"}`, `not json`, `{"command":"true","max_retries":-1}`} {
		if _, err := run(context.Background(), a, "enqueue", raw); !errors.Is(err, queuectl.ErrInvalidJob) {
			t.Errorf("enqueue %s: expected ErrInvalidJob, got %v", raw, err)
		}
	}
}

func TestList_UnknownState(t *testing.T) {
	a, _ := testApp(t)
	if _, err := run(context.Background(), a, "list", "--state", "running"); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestConfigSetGet(t *testing.T) {
	a, _ := testApp(t)
	ctx := context.Background()

	if _, err := run(ctx, a, "config", "set", "max_retries", "5"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := run(ctx, a, "config", "get", "max_retries")
	if err != nil {
		t.Fatalf("config get: %v", err)
	}
	if strings.TrimSpace(out) != "5" {
		t.Errorf("config get max_retries = %q, want 5", out)
	}

	out, err = run(ctx, a, "config", "get")
	if err != nil {
		t.Fatalf("config get all: %v", err)
	}
	if !strings.Contains(out, "backoff_base=2") || !strings.Contains(out, "max_retries=5") {
		t.Errorf("config get all output:\n%s", out)
	}

	if _, err := run(ctx, a, "config", "set", "backoff_base", "0"); !errors.Is(err, queuectl.ErrInvalidSetting) {
		t.Errorf("invalid backoff_base: expected ErrInvalidSetting, got %v", err)
	}
	if _, err := run(ctx, a, "config", "get", "nope"); err == nil {
		t.Error("expected error for unset key")
	}
}

func TestDLQ_EmptyAndUnknownRetry(t *testing.T) {
	a, _ := testApp(t)
	ctx := context.Background()

	out, err := run(ctx, a, "dlq", "list")
	if err != nil {
		t.Fatalf("dlq list: %v", err)
	}
	if !strings.Contains(out, "empty") {
		t.Errorf("dlq list output = %q", out)
	}
	if _, err := run(ctx, a, "dlq", "retry", "ghost"); !errors.Is(err, queuectl.ErrJobNotFound) {
		t.Fatalf("dlq retry: expected ErrJobNotFound, got %v", err)
	}
}

func TestWorkerRun_ProcessesJobsUntilCancelled(t *testing.T) {
	a, _ := testApp(t)
	ctx := context.Background()

	for _, raw := range []string{
		`{"id":"job-1","command":"false","max_retries":0}`,
		`{"id":"job-2","command":"true"}`,
	} {
		if _, err := run(ctx, a, "enqueue", raw); err != nil {
			t.Fatalf("enqueue %s: %v", raw, err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if _, err := run(runCtx, a, "worker", "run", "--id", "0"); err != nil {
		t.Fatalf("worker run: %v", err)
	}

	out, err := run(ctx, a, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	counts := statusCounts(out)
	for state, want := range map[string]string{"completed": "1", "dead": "1", "pending": "0", "total": "2"} {
		if counts[state] != want {
			t.Errorf("status %s = %q, want %s:\n%s", state, counts[state], want, out)
		}
	}
	if !strings.Contains(out, "workers: 0 registered") {
		t.Errorf("status output missing worker summary:\n%s", out)
	}

	out, err = run(ctx, a, "dlq", "list")
	if err != nil {
		t.Fatalf("dlq list: %v", err)
	}
	if !strings.Contains(out, "job-1") || !strings.Contains(out, "boom") {
		t.Errorf("dlq list output:\n%s", out)
	}

	if _, err := run(ctx, a, "dlq", "retry", "job-1"); err != nil {
		t.Fatalf("dlq retry: %v", err)
	}
	out, _ = run(ctx, a, "list", "--state", "pending")
	if !strings.Contains(out, "job-1") {
		t.Errorf("retried job not pending:\n%s", out)
	}
}

func TestWorkerStop_NoneRegistered(t *testing.T) {
	a, _ := testApp(t)
	out, err := run(context.Background(), a, "worker", "stop")
	if err != nil {
		t.Fatalf("worker stop: %v", err)
	}
	if !strings.Contains(out, "no workers registered") {
		t.Errorf("worker stop output = %q", out)
	}
}

func TestPing(t *testing.T) {
	a, s := testApp(t)
	ctx := context.Background()

	if _, err := run(ctx, a, "ping"); err != nil {
		t.Fatalf("ping: %v", err)
	}
	s.FailNext(errors.New("connection refused"))
	if _, err := run(ctx, a, "ping"); !errors.Is(err, queuectl.ErrStoreUnavailable) {
		t.Fatalf("ping: expected ErrStoreUnavailable, got %v", err)
	}
}

func TestEnqueue_WritesAuditLog(t *testing.T) {
	a, _ := testApp(t)
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	load := a.loadConfig
	a.loadConfig = func() (queuectl.Config, error) {
		cfg, err := load()
		cfg.AuditLog = path
		return cfg, err
	}

	if _, err := run(context.Background(), a, "enqueue", `{"id":"audited","command":"true"}`); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	line := strings.TrimSpace(string(data))
	if !strings.Contains(line, `"action":"job.enqueued"`) || !strings.Contains(line, `"resource_id":"audited"`) {
		t.Errorf("audit log = %q", line)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "warn", "json")
	l.Info("hidden")
	l.Warn("shown", slog.String("k", "v"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("expected JSON record, got %s", out)
	}
}

// statusCounts parses the "state count" rows printed by status.
func statusCounts(out string) map[string]string {
	counts := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		if f := strings.Fields(line); len(f) == 2 {
			counts[f[0]] = f[1]
		}
	}
	return counts
}
