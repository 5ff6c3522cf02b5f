package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdorsey/corruptvideofileinspector/internal/walk"
)

func TestDefaults_Validate(t *testing.T) {
	cfg := Defaults()
	cfg.History.Path = filepath.Join(t.TempDir(), "history.sqlite")
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 60, cfg.Analyzer.QuickTimeoutS)
	assert.Equal(t, 900, cfg.Analyzer.DeepTimeoutS)
	assert.Equal(t, 30, cfg.Analyzer.ProbeTimeoutS)
	assert.Equal(t, 0.5, cfg.Classifier.CorruptThreshold)
	assert.Equal(t, 0.15, cfg.Classifier.LowThreshold)
	assert.Equal(t, "hybrid", cfg.Scan.Mode)
	assert.Equal(t, walk.DefaultExtensions, cfg.Scan.Extensions)
	assert.Equal(t, 7, cfg.Scan.IncrementalWindowDays)
	assert.True(t, cfg.Scan.ProbeRequired())
	assert.True(t, cfg.ProbeCache.IsEnabled())
	assert.GreaterOrEqual(t, cfg.Pool.MaxWorkers, 1)
	assert.LessOrEqual(t, cfg.Pool.MaxWorkers, 16)
	assert.Equal(t, 2*cfg.Pool.MaxWorkers, cfg.Pool.EffectiveQueueCapacity())
}

func TestDeepTrigger_DefaultsToLowThreshold(t *testing.T) {
	c := ClassifierConfig{CorruptThreshold: 0.5, LowThreshold: 0.15}
	assert.Equal(t, 0.15, c.EffectiveDeepTrigger())

	c.DeepTrigger = 0.3
	assert.Equal(t, 0.3, c.EffectiveDeepTrigger())
}

func TestValidate_Rejections(t *testing.T) {
	base := func() Config {
		cfg := Defaults()
		cfg.History.Path = "/tmp/history.sqlite"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero quick timeout", func(c *Config) { c.Analyzer.QuickTimeoutS = 0 }},
		{"negative probe timeout", func(c *Config) { c.Analyzer.ProbeTimeoutS = -1 }},
		{"threshold above one", func(c *Config) { c.Classifier.CorruptThreshold = 1.5 }},
		{"low above corrupt", func(c *Config) { c.Classifier.LowThreshold = 0.9 }},
		{"zero workers", func(c *Config) { c.Pool.MaxWorkers = 0 }},
		{"bad mode", func(c *Config) { c.Scan.Mode = "thorough" }},
		{"missing history path", func(c *Config) { c.History.Path = "" }},
		{"negative ttl", func(c *Config) { c.ProbeCache.TTLHours = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_YAMLAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cvi.yaml")
	data := []byte(`
scan:
  mode: quick
  extensions: [".mkv", ".mp4"]
history:
  path: /data/history.sqlite
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	t.Setenv("CVI_SCAN_MODE", "deep")
	t.Setenv("CVI_POOL_MAX_WORKERS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env wins over file, file wins over defaults.
	assert.Equal(t, "deep", cfg.Scan.Mode)
	assert.Equal(t, 4, cfg.Pool.MaxWorkers)
	assert.Equal(t, []string{".mkv", ".mp4"}, cfg.Scan.Extensions)
	assert.Equal(t, "/data/history.sqlite", cfg.History.Path)
	assert.Equal(t, 60, cfg.Analyzer.QuickTimeoutS)
}

func TestLoad_ExplicitlyEmptyExtensionsDisablePreFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cvi.yaml")
	data := []byte("scan:\n  extensions: []\nhistory:\n  path: /data/history.sqlite\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	// An empty list in the file is a deliberate "no pre-filter", distinct
	// from an absent key which keeps the default allowlist.
	assert.NotNil(t, cfg.Scan.Extensions)
	assert.Empty(t, cfg.Scan.Extensions)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cvi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scann:\n  mode: quick\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestResolveAnalyzer_MissingExplicitBinary(t *testing.T) {
	_, err := ResolveAnalyzer(AnalyzerConfig{Command: "/nonexistent/ffmpeg"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolMissing)
}

func TestDeriveFFprobe_SiblingLookup(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := filepath.Join(dir, "ffmpeg")
	ffprobe := filepath.Join(dir, "ffprobe")
	require.NoError(t, os.WriteFile(ffmpeg, []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(ffprobe, []byte("#!/bin/sh\n"), 0o755))

	assert.Equal(t, ffprobe, deriveFFprobe(ffmpeg))
	assert.Equal(t, "", deriveFFprobe("ffmpeg"), "bare PATH name must not be guessed from")
	assert.Equal(t, "", deriveFFprobe(filepath.Join(dir, "other")))
}
