//go:build windows

package process

import (
	"os"
	"os/exec"
	"strconv"
)

func setupProcessHandling(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return killProcessTree(cmd.Process)
	}
}

// Windows has no process-group signaling; taskkill walks the tree by PID.

func terminateProcessTree(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	return exec.Command("taskkill", "/T", "/PID", strconv.Itoa(proc.Pid)).Run()
}

func killProcessTree(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(proc.Pid)).Run()
}
