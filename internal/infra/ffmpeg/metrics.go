package ffmpeg

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	startTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvi_analyzer_start_total",
		Help: "Total number of analyzer child process starts",
	}, []string{"mode"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvi_analyzer_exit_total",
		Help: "Total number of analyzer child process exits",
	}, []string{"mode", "reason"})
)
