package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verdictTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvi_scan_verdicts_total",
		Help: "Total persisted per-file verdicts",
	}, []string{"verdict"})

	runTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvi_scan_runs_total",
		Help: "Total finished scan runs by terminal status",
	}, []string{"status"})
)
