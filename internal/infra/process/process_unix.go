//go:build unix && !linux

package process

import (
	"os/exec"
	"syscall"
)

func setupProcessHandling(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		return killProcessTree(cmd.Process)
	}
}
