package ffmpeg

import (
	"context"
	"fmt"

	"github.com/tdorsey/corruptvideofileinspector/internal/pipeline/model"
)

// Inspect decodes the file to a null sink and returns the captured
// diagnostic stream plus exit code. Quick depth uses the short wall-clock
// bound, deep the long one. A timeout is reported in the RawAnalysis, never
// as a spurious success; an error is returned only when the child could not
// be launched at all.
func (d *Driver) Inspect(ctx context.Context, id model.FileIdentity, depth model.Depth) (model.RawAnalysis, error) {
	args := []string{
		"-v", "error",
		"-i", id.Path,
		"-f", "null", "-",
	}

	timeout := d.QuickTimeout
	if depth == model.DepthDeep {
		timeout = d.DeepTimeout
	}

	startTotal.WithLabelValues(string(depth)).Inc()
	res, err := d.run(ctx, d.FFmpeg, args, timeout)
	if err != nil {
		exitTotal.WithLabelValues(string(depth), "launch_error").Inc()
		return model.RawAnalysis{}, fmt.Errorf("ffmpeg launch: %w", err)
	}

	diagnostics := string(res.stderr)
	if res.truncated {
		diagnostics += truncationSentinel
	}

	switch {
	case res.timedOut:
		exitTotal.WithLabelValues(string(depth), "timeout").Inc()
	case res.exitCode != 0:
		exitTotal.WithLabelValues(string(depth), "error").Inc()
	default:
		exitTotal.WithLabelValues(string(depth), "clean").Inc()
	}

	return model.RawAnalysis{
		ExitCode:    res.exitCode,
		Diagnostics: diagnostics,
		Truncated:   res.truncated,
		Timeout:     res.timedOut,
		Duration:    res.duration,
	}, nil
}
