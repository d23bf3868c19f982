package prober

import "github.com/prometheus/client_golang/prometheus"

var (
	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lounged",
			Subsystem: "prober",
			Name:      "probes_total",
			Help:      "Status probes by model and result",
		},
		[]string{"model", "result"},
	)

	warmupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lounged",
			Subsystem: "prober",
			Name:      "warmups_total",
			Help:      "Warm-up calls by model and result",
		},
		[]string{"model", "result"},
	)

	modelLoaded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lounged",
			Subsystem: "prober",
			Name:      "model_loaded",
			Help:      "1 when the model was last observed loaded",
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(probesTotal, warmupsTotal, modelLoaded)
}
