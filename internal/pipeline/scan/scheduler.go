package scan

import (
	"github.com/tdorsey/corruptvideofileinspector/internal/classify"
	"github.com/tdorsey/corruptvideofileinspector/internal/pipeline/model"
)

// policy maps the configured scan mode onto per-file scheduling decisions.
type policy struct {
	mode        model.ScanMode
	deepTrigger float64
}

// initialDepth is the depth of the first inspection pass.
func (p policy) initialDepth() model.Depth {
	if p.mode == model.ModeDeep {
		return model.DepthDeep
	}
	return model.DepthQuick
}

// flagsDeep reports whether a quick-pass result indicates the file deserves
// a deep decode: any non-healthy verdict, confidence at or past the trigger,
// or an inspection that never produced trustworthy output.
func (p policy) flagsDeep(res classify.Result, raw model.RawAnalysis) bool {
	if raw.Timeout {
		return true
	}
	if res.Verdict != model.VerdictHealthy {
		return true
	}
	return res.Confidence >= p.deepTrigger
}

// promotes reports whether flagged files actually get a second, deep pass.
// Only hybrid mode promotes; quick mode records the flag and stops there.
func (p policy) promotes() bool {
	return p.mode == model.ModeHybrid
}
