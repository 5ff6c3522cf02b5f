package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tdorsey/corruptvideofileinspector/internal/pipeline/model"
)

// Probe executes ffprobe against the file and returns the parsed metadata.
// Tool-level failures (timeout, non-JSON output, no streams) come back as an
// unsuccessful ProbeResult with a reason; only a launch failure is an error.
func (d *Driver) Probe(ctx context.Context, id model.FileIdentity) (model.ProbeResult, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		id.Path,
	}

	startTotal.WithLabelValues("probe").Inc()
	res, err := d.run(ctx, d.FFprobe, args, d.ProbeTimeout)
	if err != nil {
		exitTotal.WithLabelValues("probe", "launch_error").Inc()
		return model.ProbeResult{}, fmt.Errorf("ffprobe launch: %w", err)
	}

	probe := model.ProbeResult{
		Identity:  id,
		ProbeTime: res.duration,
		Timestamp: time.Now().UTC(),
	}

	if res.timedOut {
		exitTotal.WithLabelValues("probe", "timeout").Inc()
		probe.FailureReason = "probe timeout"
		return probe, nil
	}

	parsed, parseErr := parseProbeOutput(res.stdout)
	if parseErr != nil {
		exitTotal.WithLabelValues("probe", "parse_error").Inc()
		probe.FailureReason = fmt.Sprintf("probe output parse: %v", parseErr)
		return probe, nil
	}
	if res.exitCode != 0 && len(parsed.Streams) == 0 {
		exitTotal.WithLabelValues("probe", "error").Inc()
		probe.FailureReason = fmt.Sprintf("ffprobe exit code %d", res.exitCode)
		return probe, nil
	}

	exitTotal.WithLabelValues("probe", "clean").Inc()
	probe.Success = true
	probe.Streams = parsed.Streams
	probe.Container = parsed.Container
	probe.Duration = parsed.Duration
	return probe, nil
}

type parsedProbe struct {
	Streams   []model.Stream
	Container string
	Duration  float64
}

// probeData mirrors the subset of ffprobe's JSON document the core reads.
type probeData struct {
	Streams []struct {
		Index     int    `json:"index"`
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

func parseProbeOutput(out []byte) (parsedProbe, error) {
	var data probeData
	if err := json.Unmarshal(out, &data); err != nil {
		return parsedProbe{}, err
	}
	if data.Format.FormatName == "" && len(data.Streams) == 0 {
		return parsedProbe{}, fmt.Errorf("empty probe document")
	}

	p := parsedProbe{Container: canonicalContainer(data.Format.FormatName)}

	for _, s := range data.Streams {
		p.Streams = append(p.Streams, model.Stream{
			Index: s.Index,
			Kind:  streamKind(s.CodecType),
			Codec: s.CodecName,
		})
	}

	if data.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
			p.Duration = dur
		}
	}

	return p, nil
}

func streamKind(codecType string) model.StreamKind {
	switch codecType {
	case "video":
		return model.StreamVideo
	case "audio":
		return model.StreamAudio
	case "subtitle":
		return model.StreamSubtitle
	default:
		// data, attachment, and anything ffprobe grows later
		return model.StreamOther
	}
}

// canonicalContainer picks one token from ffprobe's comma-list format_name,
// preferring mpegts normalized to "ts".
func canonicalContainer(formatName string) string {
	canonical := ""
	for _, p := range strings.Split(formatName, ",") {
		t := strings.TrimSpace(p)
		if t == "mpegts" {
			return "ts"
		}
		if canonical == "" && t != "" {
			canonical = t
		}
	}
	return canonical
}
