package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobRunsTotal, jobDuration) }

var jobRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scheduler_job_runs_total",
		Help: "Scheduled job runs, labeled by job and result.",
	},
	[]string{"job", "result"}, // result: 'ok', 'error'
)

var jobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "scheduler_job_duration_seconds",
		Help:    "Scheduled job wall time.",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
	},
	[]string{"job"},
)

func ObserveJob(job string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	jobRunsTotal.WithLabelValues(norm(job), result).Inc()
	jobDuration.WithLabelValues(norm(job)).Observe(d.Seconds())
}
