//go:build !windows

package judge

import (
	"os/exec"
	"syscall"
	"time"
)

// configureProcAttr puts the command in its own process group so that
// cancellation also reaches anything it spawned.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if err == syscall.ESRCH {
			return nil
		}
		return err
	}
	cmd.WaitDelay = 2 * time.Second
}
