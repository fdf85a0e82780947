//go:build windows

package judge

import (
	"os/exec"
	"time"
)

// configureProcAttr keeps the default kill-on-cancel; process groups are not
// available.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.WaitDelay = 2 * time.Second
}
