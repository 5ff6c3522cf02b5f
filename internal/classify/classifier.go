// Package classify maps raw analyzer output to a corruption verdict with a
// confidence score. Classification is deterministic: identical diagnostics
// and thresholds always produce identical results.
package classify

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/tdorsey/corruptvideofileinspector/internal/pipeline/model"
)

// InspectErrorTag marks results synthesized from inspection failures
// (timeout, launch error, empty diagnostics with non-zero exit).
const InspectErrorTag = "inspect_error"

// QuickConfidenceTag preserves the quick-phase confidence on a superseding
// deep result, for audit.
const QuickConfidenceTag = "quick_confidence"

// Thresholds partition the confidence range into the three verdict regions.
type Thresholds struct {
	// Corrupt: confidence >= Corrupt => corrupt.
	Corrupt float64
	// Low: Low <= confidence < Corrupt => suspicious; below => healthy.
	Low float64
	// ExitWeight is the fixed contribution of a non-zero exit code.
	ExitWeight float64
}

// DefaultThresholds returns the documented default partitioning.
func DefaultThresholds() Thresholds {
	return Thresholds{Corrupt: 0.5, Low: 0.15, ExitWeight: 0.5}
}

// PatternSpec is one configurable diagnostic indicator.
type PatternSpec struct {
	Tag    string
	Weight float64
	Expr   string // case-insensitive regular expression
}

// DefaultPatterns returns the built-in indicator table. Critical indicators
// carry weights >= 0.6, warnings 0.2-0.5.
func DefaultPatterns() []PatternSpec {
	return []PatternSpec{
		// Critical
		{Tag: "invalid_nal", Weight: 0.8, Expr: `invalid nal unit`},
		{Tag: "decode_error", Weight: 0.7, Expr: `error while decoding`},
		{Tag: "frame_corrupt", Weight: 0.7, Expr: `frame corrupt|truncated frame`},
		{Tag: "corrupt_packet", Weight: 0.7, Expr: `corrupt input packet|corrupt packet`},
		{Tag: "invalid_bitstream", Weight: 0.6, Expr: `invalid data found when processing input`},
		{Tag: "missing_reference", Weight: 0.6, Expr: `reference picture missing|missing reference`},
		// Warning
		{Tag: "invalid_frame_size", Weight: 0.4, Expr: `invalid frame size|invalid frame dimensions`},
		{Tag: "buffer_underflow", Weight: 0.3, Expr: `buffer underflow`},
		{Tag: "dts_non_monotonic", Weight: 0.3, Expr: `non.?monotonous dts|non.?monotonic dts`},
		{Tag: "timestamp_discontinuity", Weight: 0.3, Expr: `timestamp discontinuity`},
		{Tag: "frame_skipped", Weight: 0.2, Expr: `skipping frame|frame skipped`},
	}
}

type pattern struct {
	tag    string
	weight float64
	re     *regexp.Regexp
}

// Classifier evaluates analyzer diagnostics against the indicator table.
type Classifier struct {
	thresholds Thresholds
	patterns   []pattern
}

// Result is the classified outcome of one analysis.
type Result struct {
	Verdict    model.Verdict
	Confidence float64
	Indicators []model.Indicator
}

// New compiles a classifier from thresholds and pattern specs. With no specs
// the default indicator table is used.
func New(t Thresholds, specs ...PatternSpec) (*Classifier, error) {
	if len(specs) == 0 {
		specs = DefaultPatterns()
	}
	patterns := make([]pattern, 0, len(specs))
	for _, s := range specs {
		re, err := regexp.Compile(`(?i)` + s.Expr)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, pattern{tag: s.Tag, weight: s.Weight, re: re})
	}
	return &Classifier{thresholds: t, patterns: patterns}, nil
}

// Classify maps analyzer output to a verdict, confidence, and indicator set.
func (c *Classifier) Classify(raw model.RawAnalysis) Result {
	confidence := 0.0
	var indicators []model.Indicator

	if raw.ExitCode != 0 {
		confidence += c.thresholds.ExitWeight
	}

	for _, p := range c.patterns {
		count := len(p.re.FindAllStringIndex(raw.Diagnostics, -1))
		if count == 0 {
			continue
		}
		// Weight once per pattern plus a saturating frequency term.
		confidence += p.weight + frequencyTerm(count)
		indicators = append(indicators, model.Indicator{Tag: p.tag, Weight: p.weight})
	}

	if confidence > 1.0 {
		confidence = 1.0
	}

	verdict := c.VerdictFor(confidence)

	// Empty diagnostics with a non-zero exit is an inspection error, not
	// evidence of corruption: suspicious exactly, whatever the exit weight
	// would otherwise put the confidence at.
	if raw.ExitCode != 0 && strings.TrimSpace(raw.Diagnostics) == "" {
		indicators = append(indicators, model.Indicator{Tag: InspectErrorTag, Weight: c.thresholds.ExitWeight})
		verdict = model.VerdictSuspicious
		confidence = c.thresholds.Low
	}

	sortIndicators(indicators)
	return Result{Verdict: verdict, Confidence: confidence, Indicators: indicators}
}

// ErrorResult synthesizes the verdict for an inspection that produced no
// usable diagnostics at all (timeout, launch failure). Such files are
// suspicious, never healthy and never confidently corrupt.
func (c *Classifier) ErrorResult() Result {
	return Result{
		Verdict:    model.VerdictSuspicious,
		Confidence: c.thresholds.Low,
		Indicators: []model.Indicator{{Tag: InspectErrorTag, Weight: c.thresholds.ExitWeight}},
	}
}

// VerdictFor maps a confidence value onto the three disjoint verdict regions.
func (c *Classifier) VerdictFor(confidence float64) model.Verdict {
	switch {
	case confidence >= c.thresholds.Corrupt:
		return model.VerdictCorrupt
	case confidence >= c.thresholds.Low:
		return model.VerdictSuspicious
	default:
		return model.VerdictHealthy
	}
}

// Thresholds returns the configured partitioning.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

func frequencyTerm(count int) float64 {
	return math.Min(0.2, 0.05*math.Log2(1+float64(count)))
}

// sortIndicators orders by descending weight, ties broken by ascending tag.
func sortIndicators(indicators []model.Indicator) {
	sort.Slice(indicators, func(i, j int) bool {
		if indicators[i].Weight != indicators[j].Weight {
			return indicators[i].Weight > indicators[j].Weight
		}
		return indicators[i].Tag < indicators[j].Tag
	})
}
