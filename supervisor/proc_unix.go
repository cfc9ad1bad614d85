//go:build unix

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// detach starts the worker in a new session so it outlives the terminal
// that launched it and does not receive its job-control signals.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// terminate asks p to shut down gracefully.
func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
