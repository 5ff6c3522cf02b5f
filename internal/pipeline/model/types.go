// Package model defines the data types flowing through the scan pipeline.
package model

import (
	"fmt"
	"os"
	"time"
)

// ScanMode selects the inspection policy for a run.
type ScanMode string

const (
	ModeQuick  ScanMode = "quick"
	ModeDeep   ScanMode = "deep"
	ModeHybrid ScanMode = "hybrid"
)

// Valid reports whether the mode is a recognized scan mode.
func (m ScanMode) Valid() bool {
	return m == ModeQuick || m == ModeDeep || m == ModeHybrid
}

// Depth is the decode depth of a single inspection job.
type Depth string

const (
	DepthQuick Depth = "quick"
	DepthDeep  Depth = "deep"
)

// Verdict classifies a single inspected file.
type Verdict string

const (
	VerdictHealthy    Verdict = "healthy"
	VerdictCorrupt    Verdict = "corrupt"
	VerdictSuspicious Verdict = "suspicious"
)

// RunStatus is the terminal (or in-flight) state of a scan run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Phase labels the stage a run is currently in, for progress reporting.
type Phase string

const (
	PhaseDiscovery  Phase = "discovery"
	PhaseQuick      Phase = "quick"
	PhaseDeep       Phase = "deep"
	PhaseFinalizing Phase = "finalizing"
)

// StreamKind categorizes a probed stream.
type StreamKind string

const (
	StreamVideo    StreamKind = "video"
	StreamAudio    StreamKind = "audio"
	StreamSubtitle StreamKind = "subtitle"
	StreamOther    StreamKind = "other"
)

// FileIdentity is the stable identity tuple of a candidate file. Two files
// with the same tuple are the same artifact for caching and incremental-skip
// purposes; a change in size or mtime invalidates any cached result.
type FileIdentity struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	MTimeNanos int64  `json:"mtime_nanos"`
}

// Key returns the canonical cache/dedupe key for the identity tuple.
func (id FileIdentity) Key() string {
	return fmt.Sprintf("%s|%d|%d", id.Path, id.Size, id.MTimeNanos)
}

// IdentityOf stats path and builds its identity tuple.
func IdentityOf(path string) (FileIdentity, error) {
	st, err := os.Stat(path)
	if err != nil {
		return FileIdentity{}, err
	}
	return FileIdentity{
		Path:       path,
		Size:       st.Size(),
		MTimeNanos: st.ModTime().UnixNano(),
	}, nil
}

// Stream describes one encoded stream reported by the probe.
type Stream struct {
	Index int        `json:"index"`
	Kind  StreamKind `json:"kind"`
	Codec string     `json:"codec"`
}

// ProbeResult is the outcome of a metadata-only analyzer invocation.
type ProbeResult struct {
	Identity      FileIdentity  `json:"identity"`
	Success       bool          `json:"success"`
	Streams       []Stream      `json:"streams,omitempty"`
	Container     string        `json:"container,omitempty"`
	Duration      float64       `json:"duration,omitempty"` // seconds, 0 = unknown
	ProbeTime     time.Duration `json:"probe_time"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// HasVideoStream reports whether the probe found at least one video stream.
func (p ProbeResult) HasVideoStream() bool {
	for _, s := range p.Streams {
		if s.Kind == StreamVideo {
			return true
		}
	}
	return false
}

// ScanEligible reports whether the file qualifies for decode inspection.
func (p ProbeResult) ScanEligible() bool {
	return p.Success && p.HasVideoStream()
}

// RawAnalysis is the captured output of one decode-level analyzer invocation.
type RawAnalysis struct {
	ExitCode    int
	Diagnostics string
	Truncated   bool
	Timeout     bool
	Duration    time.Duration
}

// Indicator is a matched diagnostic pattern tag with its contribution weight.
type Indicator struct {
	Tag    string  `json:"tag"`
	Weight float64 `json:"weight"`
}

// InspectionResult is the classified outcome of decode-level analysis of one file.
type InspectionResult struct {
	Identity      FileIdentity  `json:"identity"`
	Verdict       Verdict       `json:"verdict"`
	Confidence    float64       `json:"confidence"`
	Mode          Depth         `json:"scan_mode"`
	Indicators    []Indicator   `json:"indicators,omitempty"`
	Diagnostics   string        `json:"raw_diagnostics,omitempty"`
	InspectTime   time.Duration `json:"inspection_time"`
	NeedsDeep     bool          `json:"needs_deep"`
	DeepCompleted bool          `json:"deep_completed"`
	Timestamp     time.Time     `json:"timestamp"`
	Probe         *ProbeResult  `json:"probe,omitempty"`
}

// ScanSummary describes one run of the orchestrator.
type ScanSummary struct {
	ID                   int64         `json:"id"`
	Directory            string        `json:"directory"`
	Mode                 ScanMode      `json:"mode"`
	Discovered           int           `json:"discovered"`
	Eligible             int           `json:"eligible"`
	Processed            int           `json:"processed"`
	Healthy              int           `json:"healthy"`
	Corrupt              int           `json:"corrupt"`
	Suspicious           int           `json:"suspicious"`
	DeepNeeded           int           `json:"deep_needed"`
	DeepCompleted        int           `json:"deep_completed"`
	SkippedIneligible    int           `json:"skipped_ineligible"`
	SkippedRecentHealthy int           `json:"skipped_recent_healthy"`
	SkippedResumed       int           `json:"skipped_resumed"`
	ScanTime             time.Duration `json:"scan_time"`
	StartedAt            time.Time     `json:"started_at"`
	CompletedAt          time.Time     `json:"completed_at,omitzero"`
	WasResumed           bool          `json:"was_resumed"`
	Status               RunStatus     `json:"status"`
}

// Progress is a point-in-time snapshot published while a run is active.
type Progress struct {
	RunID                string        `json:"run_id"`
	ScanID               int64         `json:"scan_id"`
	Phase                Phase         `json:"phase"`
	Discovered           int           `json:"discovered"`
	Eligible             int           `json:"eligible"`
	Processed            int           `json:"processed"`
	Healthy              int           `json:"healthy"`
	Corrupt              int           `json:"corrupt"`
	Suspicious           int           `json:"suspicious"`
	SkippedIneligible    int           `json:"skipped_ineligible"`
	SkippedRecentHealthy int           `json:"skipped_recent_healthy"`
	CurrentFile          string        `json:"current_file,omitempty"`
	Elapsed              time.Duration `json:"elapsed"`
	EstimatedRemaining   time.Duration `json:"estimated_remaining"`
}
