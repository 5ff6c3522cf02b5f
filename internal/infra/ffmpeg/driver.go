// Package ffmpeg drives the external media analyzer in its two modes:
// metadata probe (ffprobe) and decode inspection (ffmpeg to a null sink).
// The driver is stateless and safe for concurrent use from any worker.
package ffmpeg

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/tdorsey/corruptvideofileinspector/internal/procgroup"
)

// OutputCap bounds captured analyzer output per invocation. Reaching the cap
// attaches a truncation sentinel instead of silently dropping data.
const OutputCap = 1 << 20 // 1 MiB

// truncationSentinel is appended to diagnostics when the cap was hit.
const truncationSentinel = "\n[truncated: analyzer output exceeded cap]"

// Driver invokes the analyzer binaries with bounded output and timeouts.
type Driver struct {
	FFmpeg  string
	FFprobe string

	ProbeTimeout time.Duration
	QuickTimeout time.Duration
	DeepTimeout  time.Duration

	// KillGrace is how long a child gets between SIGTERM and SIGKILL.
	KillGrace time.Duration
}

// NewDriver builds a driver around resolved binary paths.
func NewDriver(ffmpegBin, ffprobeBin string, probeTimeout, quickTimeout, deepTimeout time.Duration) *Driver {
	return &Driver{
		FFmpeg:       ffmpegBin,
		FFprobe:      ffprobeBin,
		ProbeTimeout: probeTimeout,
		QuickTimeout: quickTimeout,
		DeepTimeout:  deepTimeout,
		KillGrace:    5 * time.Second,
	}
}

// execResult is the raw outcome of one child invocation.
type execResult struct {
	stdout    []byte
	stderr    []byte
	truncated bool
	exitCode  int
	timedOut  bool
	duration  time.Duration
}

// run launches bin with argv-list args (paths are arguments, never shell
// interpolated), enforcing the wall-clock timeout. On timeout the child's
// whole process group is terminated.
func (d *Driver) run(ctx context.Context, bin string, args []string, timeout time.Duration) (execResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outBuf := newCappedBuffer(OutputCap)
	errBuf := newCappedBuffer(OutputCap)

	cmd := exec.Command(bin, args...) // #nosec G204 -- binary resolved at config time, args strictly controlled
	procgroup.Set(cmd)
	cmd.Stdout = outBuf
	cmd.Stderr = errBuf

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return execResult{}, err
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitCh:
	case <-runCtx.Done():
		grace := d.KillGrace
		if grace <= 0 {
			grace = 5 * time.Second
		}
		waitErr = procgroup.Terminate(cmd, waitCh, grace)
		timedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
	}

	code := 0
	if waitErr != nil {
		code = 1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
	}

	return execResult{
		stdout:    outBuf.Bytes(),
		stderr:    errBuf.Bytes(),
		truncated: outBuf.Truncated() || errBuf.Truncated(),
		exitCode:  code,
		timedOut:  timedOut,
		duration:  time.Since(start),
	}, nil
}
