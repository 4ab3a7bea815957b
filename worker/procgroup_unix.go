//go:build unix

package worker

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the worker in its own process group, so that killing the group also reaches
// any descendants holding the worker's stdout or stderr.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) error {
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
