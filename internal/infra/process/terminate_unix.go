//go:build unix

package process

import (
	"os"
	"syscall"
)

// Signals are sent to the whole process group so descendants spawned by
// the server are reclaimed too.

func terminateProcessTree(proc *os.Process) error {
	return signalProcessGroup(proc, syscall.SIGTERM)
}

func killProcessTree(proc *os.Process) error {
	return signalProcessGroup(proc, syscall.SIGKILL)
}

func signalProcessGroup(proc *os.Process, sig syscall.Signal) error {
	if proc == nil {
		return nil
	}
	if err := syscall.Kill(-proc.Pid, sig); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}
