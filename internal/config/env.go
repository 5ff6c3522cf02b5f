package config

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"
)

// Environment overlay. Every recognized option can be forced through a
// CVI_* variable; invalid values are ignored so a stray variable cannot
// poison an otherwise valid configuration.
func applyEnv(cfg *Config) {
	setString(&cfg.Analyzer.Command, "CVI_ANALYZER_COMMAND")
	setInt(&cfg.Analyzer.QuickTimeoutS, "CVI_ANALYZER_QUICK_TIMEOUT_S")
	setInt(&cfg.Analyzer.DeepTimeoutS, "CVI_ANALYZER_DEEP_TIMEOUT_S")
	setInt(&cfg.Analyzer.ProbeTimeoutS, "CVI_ANALYZER_PROBE_TIMEOUT_S")

	setFloat(&cfg.Classifier.CorruptThreshold, "CVI_CLASSIFIER_CORRUPT_THRESHOLD")
	setFloat(&cfg.Classifier.LowThreshold, "CVI_CLASSIFIER_LOW_THRESHOLD")
	setFloat(&cfg.Classifier.DeepTrigger, "CVI_CLASSIFIER_DEEP_TRIGGER")

	setInt(&cfg.Pool.MaxWorkers, "CVI_POOL_MAX_WORKERS")
	setInt(&cfg.Pool.QueueCapacity, "CVI_POOL_QUEUE_CAPACITY")

	setString(&cfg.Scan.Mode, "CVI_SCAN_MODE")
	if v, ok := os.LookupEnv("CVI_SCAN_EXTENSIONS"); ok {
		cfg.Scan.Extensions = splitList(v)
	}
	setBoolPtr(&cfg.Scan.RequireProbeBeforeScan, "CVI_SCAN_REQUIRE_PROBE")
	setBool(&cfg.Scan.Incremental, "CVI_SCAN_INCREMENTAL")
	setInt(&cfg.Scan.IncrementalWindowDays, "CVI_SCAN_INCREMENTAL_WINDOW_DAYS")
	setBool(&cfg.Scan.Resume, "CVI_SCAN_RESUME")
	setInt(&cfg.Scan.ResumeWindowHours, "CVI_SCAN_RESUME_WINDOW_HOURS")
	setInt(&cfg.Scan.RunTimeoutS, "CVI_SCAN_RUN_TIMEOUT_S")

	setBoolPtr(&cfg.ProbeCache.Enabled, "CVI_PROBE_CACHE_ENABLED")
	setString(&cfg.ProbeCache.Path, "CVI_PROBE_CACHE_PATH")
	setFloat(&cfg.ProbeCache.TTLHours, "CVI_PROBE_CACHE_TTL_HOURS")

	setString(&cfg.History.Path, "CVI_HISTORY_PATH")
	setInt(&cfg.History.AutoCleanupDays, "CVI_HISTORY_AUTO_CLEANUP_DAYS")
	setInt(&cfg.History.StaleRunSeconds, "CVI_HISTORY_STALE_RUN_SECONDS")

	setString(&cfg.LogLevel, "CVI_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setBoolPtr(dst **bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = &b
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func bytesReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}
