package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobsProcessedTotal, jobDurationSeconds, jobsRequeuedTotal) }

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bp_jobs_processed_total",
		Help: "Jobs moved to a new state by the dispatcher, labeled by status and tier.",
	},
	[]string{"status", "tier"},
)

var jobDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "bp_job_duration_seconds",
		Help:    "Wall time from claim to terminal transition per tier.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	},
	[]string{"tier"},
)

var jobsRequeuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bp_jobs_requeued_total",
		Help: "Stale running jobs returned to the queue by crash recovery.",
	},
	[]string{"reason"},
)

func IncJob(status, tier string) {
	jobsProcessedTotal.WithLabelValues(norm(status), norm(tier)).Inc()
}

func ObserveJobDuration(tier string, d time.Duration) {
	jobDurationSeconds.WithLabelValues(norm(tier)).Observe(d.Seconds())
}

func IncRequeued(reason string, n int) {
	jobsRequeuedTotal.WithLabelValues(norm(reason)).Add(float64(n))
}
