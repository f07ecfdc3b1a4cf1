package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(emailQueueOutcomes, emailDrainDuration, emailEnqueued) }

var emailEnqueued = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "email_queue_enqueued_total",
		Help: "Emails enqueued, labeled by template and priority.",
	},
	[]string{"template", "priority"},
)

var emailQueueOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "email_queue_processed_total",
		Help: "Email send attempts by outcome.",
	},
	[]string{"outcome"}, // sent, retrying, failed
)

var emailDrainDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "email_queue_drain_duration_seconds",
		Help:    "Wall time of one drain pass.",
		Buckets: prometheus.DefBuckets,
	},
)

func IncEmailEnqueued(template, priority string) {
	emailEnqueued.WithLabelValues(norm(template), norm(priority)).Inc()
}

func IncEmailOutcome(outcome string) {
	emailQueueOutcomes.WithLabelValues(norm(outcome)).Inc()
}

func ObserveDrain(d time.Duration) {
	emailDrainDuration.Observe(d.Seconds())
}
