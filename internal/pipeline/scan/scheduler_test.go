package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tdorsey/corruptvideofileinspector/internal/classify"
	"github.com/tdorsey/corruptvideofileinspector/internal/pipeline/model"
)

func TestPolicy_InitialDepth(t *testing.T) {
	assert.Equal(t, model.DepthQuick, policy{mode: model.ModeQuick}.initialDepth())
	assert.Equal(t, model.DepthQuick, policy{mode: model.ModeHybrid}.initialDepth())
	assert.Equal(t, model.DepthDeep, policy{mode: model.ModeDeep}.initialDepth())
}

func TestPolicy_FlagsDeep(t *testing.T) {
	p := policy{mode: model.ModeHybrid, deepTrigger: 0.15}

	healthy := classify.Result{Verdict: model.VerdictHealthy, Confidence: 0}
	assert.False(t, p.flagsDeep(healthy, model.RawAnalysis{}))

	atTrigger := classify.Result{Verdict: model.VerdictHealthy, Confidence: 0.15}
	assert.True(t, p.flagsDeep(atTrigger, model.RawAnalysis{}), "trigger boundary is inclusive")

	suspicious := classify.Result{Verdict: model.VerdictSuspicious, Confidence: 0.3}
	assert.True(t, p.flagsDeep(suspicious, model.RawAnalysis{}))

	corrupt := classify.Result{Verdict: model.VerdictCorrupt, Confidence: 0.9}
	assert.True(t, p.flagsDeep(corrupt, model.RawAnalysis{}))

	timedOut := classify.Result{Verdict: model.VerdictHealthy, Confidence: 0}
	assert.True(t, p.flagsDeep(timedOut, model.RawAnalysis{Timeout: true}),
		"a quick pass that never finished proves nothing")
}

func TestPolicy_Promotes(t *testing.T) {
	assert.True(t, policy{mode: model.ModeHybrid}.promotes())
	assert.False(t, policy{mode: model.ModeQuick}.promotes())
	assert.False(t, policy{mode: model.ModeDeep}.promotes())
}
