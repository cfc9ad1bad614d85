// Package supervisor starts and stops worker processes.
//
// Start spawns N copies of the current executable running `worker run --id
// i` and records each PID in a Registry file immediately after spawn. Stop
// reads the registry, asks every worker to terminate, waits up to the stop
// timeout, kills the ones still running, and clears the registry. A PID
// with no live process counts as already exited.
//
// Every spawned worker carries QUEUECTL_SUPERVISOR=<registry path> in its
// environment. Stop only signals processes that carry the marker, so a PID
// the OS has since handed to an unrelated program is left alone.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/queuectl"
)

const (
	defaultStopTimeout = 5 * time.Second
	defaultPollEvery   = 100 * time.Millisecond

	// markerEnv tags worker processes with the registry that owns them.
	markerEnv = "QUEUECTL_SUPERVISOR"

	// createSlack allows for clock granularity when comparing a process
	// start time with the registry's last write.
	createSlack = 2 * time.Second
)

// StopOutcome describes how a worker process ended.
type StopOutcome string

const (
	StopTerminated    StopOutcome = "terminated"
	StopKilled        StopOutcome = "killed"
	StopAlreadyExited StopOutcome = "already_exited"
	// StopPIDReused means the PID now belongs to a process this supervisor
	// did not start; it was not signalled.
	StopPIDReused StopOutcome = "pid_reused"
)

// StopResult reports what Stop did to one PID.
type StopResult struct {
	PID     int
	Outcome StopOutcome
	Err     error
}

// WorkerStatus is a registered worker PID and whether it is running.
type WorkerStatus struct {
	PID   int
	Alive bool
}

// Supervisor manages worker processes.
type Supervisor struct {
	registry    *Registry
	executable  string
	args        func(index int) []string
	stopTimeout time.Duration
	pollEvery   time.Duration
	logger      *slog.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithExecutable sets the program spawned for each worker. The default is
// the running executable.
func WithExecutable(path string) Option {
	return func(s *Supervisor) { s.executable = path }
}

// WithArgs sets the argument builder for the worker with the given index.
func WithArgs(fn func(index int) []string) Option {
	return func(s *Supervisor) { s.args = fn }
}

// WithStopTimeout sets how long Stop waits after the terminate signal
// before killing a worker.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.stopTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// New creates a Supervisor that records PIDs in registry.
func New(registry *Registry, opts ...Option) *Supervisor {
	s := &Supervisor{
		registry: registry,
		args: func(index int) []string {
			return []string{"worker", "run", "--id", strconv.Itoa(index)}
		},
		stopTimeout: defaultStopTimeout,
		pollEvery:   defaultPollEvery,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the PID registry.
func (s *Supervisor) Registry() *Registry { return s.registry }

// Start spawns count workers. With detach, each worker runs in its own
// session with output appended to worker-<i>.log next to the registry,
// and Start returns once all are spawned. Otherwise workers share the
// caller's output and Start waits for every one to exit; cancelling ctx
// asks them to terminate.
func (s *Supervisor) Start(ctx context.Context, count int, detached bool) error {
	if count < 1 {
		return fmt.Errorf("supervisor: worker count must be at least 1, got %d", count)
	}
	exe := s.executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return fmt.Errorf("supervisor: resolve executable: %w", err)
		}
	}

	cmds := make([]*exec.Cmd, 0, count)
	for i := range count {
		cmd, err := s.spawn(exe, i, detached)
		if err != nil {
			if !detached {
				s.terminateAll(cmds)
			}
			return err
		}
		cmds = append(cmds, cmd)
	}

	if detached {
		for _, cmd := range cmds {
			_ = cmd.Process.Release()
		}
		return nil
	}
	return s.wait(ctx, cmds)
}

func (s *Supervisor) spawn(exe string, index int, detached bool) (*exec.Cmd, error) {
	cmd := exec.Command(exe, s.args(index)...)
	cmd.Env = append(os.Environ(), s.marker())

	var logFile *os.File
	if detached {
		detach(cmd)
		var err error
		logFile, err = s.openLog(index)
		if err != nil {
			return nil, err
		}
		cmd.Stdout, cmd.Stderr = logFile, logFile
	} else {
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	}

	err := cmd.Start()
	if logFile != nil {
		// The child holds its own descriptor.
		_ = logFile.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("supervisor: start worker %d: %w", index, err)
	}

	pid := cmd.Process.Pid
	if err := s.registry.Append(pid); err != nil {
		s.logger.Error("worker started but not registered",
			slog.Int("pid", pid),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Info("worker started",
		slog.Int("index", index),
		slog.Int("pid", pid),
		slog.Bool("detached", detached),
	)
	return cmd, nil
}

func (s *Supervisor) openLog(index int) (*os.File, error) {
	dir := filepath.Dir(s.registry.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("supervisor: create run dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("worker-%d.log", index))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open worker log: %w", err)
	}
	return f, nil
}

// wait blocks until every foreground worker exits, then unregisters them.
func (s *Supervisor) wait(ctx context.Context, cmds []*exec.Cmd) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping foreground workers")
			s.terminateAll(cmds)
		case <-done:
		}
	}()

	var g errgroup.Group
	for _, cmd := range cmds {
		g.Go(func() error {
			if err := cmd.Wait(); err != nil {
				return fmt.Errorf("supervisor: worker pid %d: %w", cmd.Process.Pid, err)
			}
			return nil
		})
	}
	err := g.Wait()
	close(done)

	pids := make([]int, 0, len(cmds))
	for _, cmd := range cmds {
		pids = append(pids, cmd.Process.Pid)
	}
	if rmErr := s.registry.Remove(pids...); rmErr != nil {
		s.logger.Warn("failed to unregister workers", slog.String("error", rmErr.Error()))
	}

	if ctx.Err() != nil {
		if err != nil {
			s.logger.Debug("worker exit after stop request", slog.String("error", err.Error()))
		}
		return nil
	}
	return err
}

func (s *Supervisor) terminateAll(cmds []*exec.Cmd) {
	for _, cmd := range cmds {
		if err := terminate(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Warn("failed to signal worker",
				slog.Int("pid", cmd.Process.Pid),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Stop terminates every registered worker concurrently and clears the
// registry. Each worker gets the stop timeout to exit after the terminate
// signal before it is killed.
func (s *Supervisor) Stop(ctx context.Context) ([]StopResult, error) {
	pids, err := s.registry.Read()
	if err != nil {
		return nil, err
	}
	if len(pids) == 0 {
		s.logger.Info("no workers registered")
		return nil, nil
	}

	var (
		mu      sync.Mutex
		results = make([]StopResult, 0, len(pids))
		g       errgroup.Group
	)
	for _, pid := range pids {
		g.Go(func() error {
			res := s.stopOne(ctx, pid)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return res.Err
		})
	}
	stopErr := g.Wait()

	if err := s.registry.Clear(); err != nil {
		return results, err
	}
	return results, stopErr
}

func (s *Supervisor) stopOne(ctx context.Context, pid int) StopResult {
	res := StopResult{PID: pid}

	p, err := findProcess(ctx, pid)
	if errors.Is(err, queuectl.ErrProcessNotFound) {
		res.Outcome = StopAlreadyExited
		s.logger.Info("worker already exited", slog.Int("pid", pid))
		return res
	}
	if err != nil {
		res.Err = err
		return res
	}

	owned, err := s.owns(ctx, p)
	if err != nil {
		res.Err = err
		return res
	}
	if !owned {
		res.Outcome = StopPIDReused
		s.logger.Warn("registered pid now belongs to another process, not signalling",
			slog.Int("pid", pid),
		)
		return res
	}

	if err := p.TerminateWithContext(ctx); err != nil {
		if !alive(ctx, p) {
			res.Outcome = StopAlreadyExited
			return res
		}
		res.Err = fmt.Errorf("supervisor: terminate pid %d: %w", pid, err)
		return res
	}

	deadline := time.Now().Add(s.stopTimeout)
	for time.Now().Before(deadline) {
		if !alive(ctx, p) {
			res.Outcome = StopTerminated
			s.logger.Info("worker stopped", slog.Int("pid", pid))
			return res
		}
		select {
		case <-time.After(s.pollEvery):
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		}
	}
	if !alive(ctx, p) {
		res.Outcome = StopTerminated
		return res
	}

	s.logger.Warn("worker did not stop in time, killing",
		slog.Int("pid", pid),
		slog.Duration("timeout", s.stopTimeout),
	)
	if err := p.KillWithContext(ctx); err != nil && alive(ctx, p) {
		res.Err = fmt.Errorf("supervisor: kill pid %d: %w", pid, err)
		return res
	}
	res.Outcome = StopKilled
	return res
}

// Workers reports each registered PID and whether it is still running.
func (s *Supervisor) Workers(ctx context.Context) ([]WorkerStatus, error) {
	pids, err := s.registry.Read()
	if err != nil {
		return nil, err
	}
	out := make([]WorkerStatus, 0, len(pids))
	for _, pid := range pids {
		st := WorkerStatus{PID: pid}
		if p, err := findProcess(ctx, pid); err == nil {
			owned, err := s.owns(ctx, p)
			st.Alive = err == nil && owned && alive(ctx, p)
		}
		out = append(out, st)
	}
	return out, nil
}

// marker returns the environment entry that identifies this supervisor's
// workers.
func (s *Supervisor) marker() string {
	path := s.registry.Path()
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return markerEnv + "=" + path
}

// owns reports whether p is a worker this supervisor started. It looks for
// the marker in the process environment. Where the environment cannot be
// read, a process created after the registry was last written is taken to
// be a reused PID.
func (s *Supervisor) owns(ctx context.Context, p *process.Process) (bool, error) {
	env, err := p.EnvironWithContext(ctx)
	if err == nil {
		return slices.Contains(env, s.marker()), nil
	}
	s.logger.Debug("process environment unavailable, comparing start time",
		slog.Int("pid", int(p.Pid)),
		slog.String("error", err.Error()),
	)

	created, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("supervisor: inspect pid %d: %w", p.Pid, err)
	}
	written, err := s.registry.ModTime()
	if err != nil {
		return false, err
	}
	return !time.UnixMilli(created).After(written.Add(createSlack)), nil
}

// findProcess returns the live process for pid, or ErrProcessNotFound.
func findProcess(ctx context.Context, pid int) (*process.Process, error) {
	if pid <= 0 {
		return nil, queuectl.ErrProcessNotFound
	}
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("supervisor: inspect pid %d: %w", pid, err)
	}
	if !exists {
		return nil, queuectl.ErrProcessNotFound
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return nil, queuectl.ErrProcessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("supervisor: inspect pid %d: %w", pid, err)
	}
	if !alive(ctx, p) {
		return nil, queuectl.ErrProcessNotFound
	}
	return p, nil
}

// alive reports whether p is running. A zombie has exited and is only
// waiting to be reaped by its parent.
func alive(ctx context.Context, p *process.Process) bool {
	running, err := p.IsRunningWithContext(ctx)
	if err != nil || !running {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	for _, st := range status {
		if st == process.Zombie {
			return false
		}
	}
	return true
}
