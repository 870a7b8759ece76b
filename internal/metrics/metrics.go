package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed emails",
		},
	)

	DispatchRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_runs_total",
			Help: "Total dispatch runs started",
		},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Wall-clock duration of dispatch runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	QueueTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_transitions_total",
			Help: "Retry queue state transitions by resulting status",
		},
		[]string{"status"},
	)

	Unsubscribes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unsubscribes_total",
			Help: "Unsubscribe requests processed, by method",
		},
		[]string{"method"},
	)
)

func Init() {
	Register(prometheus.DefaultRegisterer)
}

// Register adds all collectors to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		EmailsSent,
		EmailFailures,
		DispatchRuns,
		DispatchDuration,
		QueueTransitions,
		Unsubscribes,
	)
}
