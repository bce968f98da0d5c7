//go:build unix

package engine

import (
	"os/exec"
	"syscall"
)

// configureProcess places the bridge in its own process group so that
// cancellation kills any children it spawned as well.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
