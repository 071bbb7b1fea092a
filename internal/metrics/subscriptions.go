package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		activationsTotal,
		subscriptionsExpiredTotal,
	)
}

var (
	activationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_activations_total",
			Help: "New subscription terms written, by status (trial/active).",
		},
		[]string{"status"},
	)

	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_superseded_total",
			Help: "Current terms expired because a new term replaced them.",
		},
	)
)

func IncActivation(status string) {
	activationsTotal.WithLabelValues(norm(status)).Inc()
}

func AddSuperseded(count int64) {
	subscriptionsExpiredTotal.Add(float64(count))
}
