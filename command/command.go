// Package command runs a job's command line as a child process.
//
// The line is split with POSIX shell-word rules and executed directly,
// never through a shell, so pipes, redirections and variable expansion are
// not available. Run never returns an error: every failure to launch or
// complete the process is folded into a non-zero [Result].
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// FailureExitCode is reported when the process could not be started, the
// line could not be parsed, or the run timed out.
const FailureExitCode = 1

// waitDelay bounds how long Run waits for output pipes after the process
// exits or is killed, in case a grandchild still holds them open.
const waitDelay = 2 * time.Second

// Result is the outcome of one command run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Err returns nil for a successful run and an *ExitError otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &ExitError{Code: r.ExitCode, Stderr: r.Stderr}
}

// ExitError describes a command that finished with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
}

// Error returns the trimmed stderr, or "exit status N" when stderr is empty.
func (e *ExitError) Error() string {
	if msg := strings.TrimSpace(e.Stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Split tokenizes line using shell-word rules. Quotes and backslash
// escapes are honoured; environment variables and backticks are left
// literal. Unquoted control operators (; & | < >) are rejected because no
// shell is involved to interpret them.
func Split(line string) ([]string, error) {
	p := shellwords.NewParser()
	p.ParseEnv = false
	p.ParseBacktick = false

	args, err := p.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("command: parse %q: %w", line, err)
	}
	if p.Position != -1 {
		return nil, fmt.Errorf("command: parse %q: shell operator at offset %d is not supported", line, p.Position)
	}
	if len(args) == 0 {
		return nil, errors.New("command: empty command")
	}
	return args, nil
}

// Run executes line and waits for it to finish. A positive timeout kills
// the command (and, on Unix, its whole process group) when it elapses.
// Cancelling ctx has the same effect; callers that must not interrupt a
// running command pass a context that is never cancelled.
func Run(ctx context.Context, line string, timeout time.Duration) Result {
	start := time.Now()

	args, err := Split(line)
	if err != nil {
		return Result{ExitCode: FailureExitCode, Stderr: err.Error(), Elapsed: time.Since(start)}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	isolate(cmd)

	err = cmd.Run()
	res := Result{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case ctx.Err() != nil:
		res.ExitCode = FailureExitCode
		res.Stderr = appendLine(res.Stderr, interruptedMessage(ctx, timeout))
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode <= 0 {
			// Terminated by a signal.
			res.ExitCode = FailureExitCode
			res.Stderr = appendLine(res.Stderr, exitErr.Error())
		}
	default:
		res.ExitCode = FailureExitCode
		res.Stderr = appendLine(res.Stderr, err.Error())
	}
	return res
}

func interruptedMessage(ctx context.Context, timeout time.Duration) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if timeout > 0 {
			return fmt.Sprintf("command timed out after %s", timeout)
		}
		return "command timed out"
	}
	return "command interrupted: " + ctx.Err().Error()
}

func appendLine(s, line string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s + line
	}
	return s + "\n" + line
}
