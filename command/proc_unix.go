//go:build unix

package command

import (
	"os/exec"
	"syscall"
)

// isolate places the command in its own process group. A terminal
// interrupt aimed at the worker's group then leaves the command running,
// and cancellation kills the command together with anything it spawned.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
