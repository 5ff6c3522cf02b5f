// Package config defines the explicit, immutable configuration threaded
// through the scan pipeline. There is no process-wide mutable state; callers
// build a Config (file + env + defaults), validate it once, and pass it down.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tdorsey/corruptvideofileinspector/internal/walk"
)

var (
	// ErrInvalidConfig classifies validation failures.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrToolMissing means the external analyzer binary cannot be located.
	ErrToolMissing = errors.New("analyzer binary not found")
)

// Config is the full recognized option set.
type Config struct {
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Pool       PoolConfig       `yaml:"pool"`
	Scan       ScanConfig       `yaml:"scan"`
	ProbeCache ProbeCacheConfig `yaml:"probe_cache"`
	History    HistoryConfig    `yaml:"history"`
	LogLevel   string           `yaml:"log_level,omitempty"`
}

// AnalyzerConfig controls the external media tool invocations.
type AnalyzerConfig struct {
	// Command overrides auto-detection of the ffmpeg binary. The ffprobe
	// binary is derived from the same directory when possible.
	Command        string `yaml:"command,omitempty"`
	QuickTimeoutS  int    `yaml:"quick_timeout_s"`
	DeepTimeoutS   int    `yaml:"deep_timeout_s"`
	ProbeTimeoutS  int    `yaml:"probe_timeout_s"`
}

// QuickTimeout returns the wall-clock bound for quick inspections.
func (a AnalyzerConfig) QuickTimeout() time.Duration { return time.Duration(a.QuickTimeoutS) * time.Second }

// DeepTimeout returns the wall-clock bound for deep inspections.
func (a AnalyzerConfig) DeepTimeout() time.Duration { return time.Duration(a.DeepTimeoutS) * time.Second }

// ProbeTimeout returns the wall-clock bound for metadata probes.
func (a AnalyzerConfig) ProbeTimeout() time.Duration { return time.Duration(a.ProbeTimeoutS) * time.Second }

// ClassifierConfig holds the verdict thresholds.
type ClassifierConfig struct {
	CorruptThreshold float64 `yaml:"corrupt_threshold"`
	LowThreshold     float64 `yaml:"low_threshold"`
	// DeepTrigger is the hybrid deep-promotion threshold. Zero means
	// "default to low_threshold".
	DeepTrigger float64 `yaml:"deep_trigger,omitempty"`
	// ExitWeight is the confidence contribution of a non-zero exit code.
	ExitWeight float64 `yaml:"exit_weight,omitempty"`
}

// EffectiveDeepTrigger resolves the hybrid promotion threshold.
func (c ClassifierConfig) EffectiveDeepTrigger() float64 {
	if c.DeepTrigger > 0 {
		return c.DeepTrigger
	}
	return c.LowThreshold
}

// PoolConfig bounds the worker pool.
type PoolConfig struct {
	MaxWorkers    int `yaml:"max_workers"`
	QueueCapacity int `yaml:"queue_capacity"` // 0 = 2*max_workers
}

// EffectiveQueueCapacity resolves the bounded submission channel capacity.
func (p PoolConfig) EffectiveQueueCapacity() int {
	if p.QueueCapacity > 0 {
		return p.QueueCapacity
	}
	return 2 * p.MaxWorkers
}

// ScanConfig controls discovery and scheduling policy.
type ScanConfig struct {
	Mode string `yaml:"mode"`
	// Extensions pre-filter candidates by suffix. Unset keeps the default
	// allowlist; an explicitly empty list disables the pre-filter entirely.
	Extensions []string `yaml:"extensions"`
	RequireProbeBeforeScan *bool    `yaml:"require_probe_before_scan,omitempty"`
	Incremental            bool     `yaml:"incremental"`
	IncrementalWindowDays  int      `yaml:"incremental_window_days"`
	Resume                 bool     `yaml:"resume"`
	ResumeWindowHours      int      `yaml:"resume_window_hours"`
	RunTimeoutS            int      `yaml:"run_timeout_s,omitempty"` // 0 = no global timeout
}

// ProbeRequired reports whether probe eligibility gates scheduling (default true).
func (s ScanConfig) ProbeRequired() bool {
	if s.RequireProbeBeforeScan == nil {
		return true
	}
	return *s.RequireProbeBeforeScan
}

// IncrementalWindow returns the recent-healthy lookback window.
func (s ScanConfig) IncrementalWindow() time.Duration {
	return time.Duration(s.IncrementalWindowDays) * 24 * time.Hour
}

// ResumeWindow returns the resume-record retention window.
func (s ScanConfig) ResumeWindow() time.Duration {
	return time.Duration(s.ResumeWindowHours) * time.Hour
}

// ProbeCacheConfig controls the persistent probe cache.
type ProbeCacheConfig struct {
	Enabled  *bool   `yaml:"enabled,omitempty"`
	Path     string  `yaml:"path,omitempty"`
	TTLHours float64 `yaml:"ttl_hours"`
}

// IsEnabled reports whether probe caching is on (default true).
func (p ProbeCacheConfig) IsEnabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

// TTL returns the cache entry lifetime.
func (p ProbeCacheConfig) TTL() time.Duration {
	return time.Duration(p.TTLHours * float64(time.Hour))
}

// HistoryConfig locates the embedded history store.
type HistoryConfig struct {
	Path            string `yaml:"path"`
	AutoCleanupDays int    `yaml:"auto_cleanup_days"` // 0 disables
	StaleRunSeconds int    `yaml:"stale_run_seconds"`
}

// StaleRunWindow returns the threshold for marking orphaned running rows failed.
func (h HistoryConfig) StaleRunWindow() time.Duration {
	return time.Duration(h.StaleRunSeconds) * time.Second
}

// Defaults returns a Config populated with the documented default values.
func Defaults() Config {
	workers := runtime.NumCPU()
	if workers > 16 {
		workers = 16
	}
	return Config{
		Analyzer: AnalyzerConfig{
			QuickTimeoutS: 60,
			DeepTimeoutS:  900,
			ProbeTimeoutS: 30,
		},
		Classifier: ClassifierConfig{
			CorruptThreshold: 0.5,
			LowThreshold:     0.15,
			ExitWeight:       0.5,
		},
		Pool: PoolConfig{
			MaxWorkers: workers,
		},
		Scan: ScanConfig{
			Mode:                  "hybrid",
			Extensions:            append([]string(nil), walk.DefaultExtensions...),
			IncrementalWindowDays: 7,
			ResumeWindowHours:     24,
		},
		ProbeCache: ProbeCacheConfig{
			TTLHours: 24,
		},
		History: HistoryConfig{
			StaleRunSeconds: 3600,
		},
	}
}

// Load reads a YAML config file on top of the defaults and applies the
// environment overlay. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := unmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func unmarshalStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytesReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	return nil
}

// Validate checks all required settings and value ranges.
func (c Config) Validate() error {
	var problems []string

	if c.Analyzer.QuickTimeoutS < 1 {
		problems = append(problems, "analyzer.quick_timeout_s must be >= 1")
	}
	if c.Analyzer.DeepTimeoutS < 1 {
		problems = append(problems, "analyzer.deep_timeout_s must be >= 1")
	}
	if c.Analyzer.ProbeTimeoutS < 1 {
		problems = append(problems, "analyzer.probe_timeout_s must be >= 1")
	}
	if c.Classifier.CorruptThreshold < 0 || c.Classifier.CorruptThreshold > 1 {
		problems = append(problems, "classifier.corrupt_threshold must be in [0,1]")
	}
	if c.Classifier.LowThreshold < 0 || c.Classifier.LowThreshold > 1 {
		problems = append(problems, "classifier.low_threshold must be in [0,1]")
	}
	if c.Classifier.LowThreshold > c.Classifier.CorruptThreshold {
		problems = append(problems, "classifier.low_threshold must be <= corrupt_threshold")
	}
	if c.Classifier.DeepTrigger < 0 || c.Classifier.DeepTrigger > 1 {
		problems = append(problems, "classifier.deep_trigger must be in [0,1]")
	}
	if c.Pool.MaxWorkers < 1 {
		problems = append(problems, "pool.max_workers must be >= 1")
	}
	if c.Pool.QueueCapacity < 0 {
		problems = append(problems, "pool.queue_capacity must be >= 1 when set")
	}
	switch c.Scan.Mode {
	case "quick", "deep", "hybrid":
	default:
		problems = append(problems, fmt.Sprintf("scan.mode %q not one of quick/deep/hybrid", c.Scan.Mode))
	}
	if c.Scan.IncrementalWindowDays < 1 {
		problems = append(problems, "scan.incremental_window_days must be >= 1")
	}
	if c.Scan.ResumeWindowHours < 1 {
		problems = append(problems, "scan.resume_window_hours must be >= 1")
	}
	if c.ProbeCache.TTLHours < 0 {
		problems = append(problems, "probe_cache.ttl_hours must be >= 0")
	}
	if c.History.Path == "" {
		problems = append(problems, "history.path is required")
	}
	if c.History.AutoCleanupDays < 0 {
		problems = append(problems, "history.auto_cleanup_days must be >= 0")
	}
	if c.History.StaleRunSeconds < 1 {
		problems = append(problems, "history.stale_run_seconds must be >= 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, joinProblems(problems))
	}
	return nil
}

func joinProblems(problems []string) string {
	out := problems[0]
	for _, p := range problems[1:] {
		out += "; " + p
	}
	return out
}
