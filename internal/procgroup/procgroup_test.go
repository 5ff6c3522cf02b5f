//go:build unix && !windows

package procgroup

import (
	"bufio"
	"os/exec"
	"testing"
	"time"
)

func TestTerminate_NilCommand(t *testing.T) {
	if err := Terminate(nil, nil, time.Second); err != nil {
		t.Fatalf("Terminate(nil) = %v, want nil", err)
	}
}

func TestTerminate_GracefulExit(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	Set(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	start := time.Now()
	_ = Terminate(cmd, waitCh, 5*time.Second)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("SIGTERM did not stop sleep promptly (took %s)", elapsed)
	}
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	// Child ignores SIGTERM; only SIGKILL can stop it. It reports readiness
	// on stdout so the signal cannot race the trap installation.
	cmd := exec.Command("sh", "-c", "trap '' TERM; echo ready; while true; do sleep 1; done")
	Set(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := bufio.NewReader(stdout).ReadString('\n'); err != nil {
		t.Fatalf("child never reported ready: %v", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	start := time.Now()
	_ = Terminate(cmd, waitCh, 500*time.Millisecond)
	elapsed := time.Since(start)
	if elapsed < 400*time.Millisecond {
		t.Fatalf("terminated before grace expired (%s); SIGTERM should have been ignored", elapsed)
	}
	if elapsed > 10*time.Second {
		t.Fatalf("SIGKILL escalation took too long (%s)", elapsed)
	}
}

func TestKill_AlreadyExited(t *testing.T) {
	cmd := exec.Command("true")
	Set(cmd)
	if err := cmd.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	// ESRCH must be swallowed.
	if err := Kill(cmd, 15); err != nil {
		t.Fatalf("Kill after exit = %v, want nil", err)
	}
}
