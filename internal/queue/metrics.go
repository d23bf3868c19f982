package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lounged",
			Subsystem: "queue",
			Name:      "jobs",
			Help:      "Jobs currently held by the queue, by status",
		},
		[]string{"status"},
	)

	outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lounged",
			Subsystem: "queue",
			Name:      "outcomes_total",
			Help:      "Finished jobs by model and outcome (complete, failed, cancelled)",
		},
		[]string{"model", "outcome"},
	)

	rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lounged",
			Subsystem: "queue",
			Name:      "rejected_total",
			Help:      "Enqueue attempts rejected, by reason",
		},
		[]string{"reason"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lounged",
			Subsystem: "queue",
			Name:      "job_duration_seconds",
			Help:      "Wall time of generation calls",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(jobsGauge, outcomesTotal, rejectedTotal, jobDuration)
}
