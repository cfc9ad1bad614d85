//go:build !unix

package supervisor

import (
	"os"
	"os/exec"
)

func detach(_ *exec.Cmd) {}

// terminate stops p. Without POSIX signals there is no graceful request,
// so the process is killed outright.
func terminate(p *os.Process) error {
	return p.Kill()
}
