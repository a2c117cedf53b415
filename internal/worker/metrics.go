package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	inflightRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronos_inflight_runs",
			Help: "Number of runs currently executing in this worker process.",
		},
	)

	claimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronos_claims_total",
			Help: "Total number of runs claimed, by queue.",
		},
		[]string{"queue"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chronos_run_duration_seconds",
			Help:    "Wall-clock duration of run executions, by queue and outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(inflightRuns)
	prometheus.MustRegister(claimsTotal)
	prometheus.MustRegister(runDuration)
}

// observeRun records one run execution. outcome is "ok" for a clean return
// (completion or suspension) and "error" otherwise.
func observeRun(queue string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	runDuration.WithLabelValues(queue, outcome).Observe(time.Since(start).Seconds())
}
