// Package procgroup spawns child processes in their own process group and
// reaps the whole tree on termination. Analyzer invocations must go through
// Set so that a timeout or cancellation never leaves orphaned decoders.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// ErrKillFailed means the process group survived both SIGTERM and SIGKILL.
var ErrKillFailed = errors.New("kill operation failed")

// Terminate attempts to gracefully stop a process group.
// It sends SIGTERM, waits for the process to exit (via the provided wait
// channel), and if it doesn't exit within grace, sends SIGKILL.
// It consumes and returns the error from waitCh.
// Safe to call on nil commands (returns nil).
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	// If the process already finished, Kill is a harmless no-op (ESRCH).
	_ = Kill(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
		_ = Kill(cmd, syscall.SIGKILL)
		// Always drain waitCh; SIGKILL frees a blocked process.
		return <-waitCh
	}
}
