package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentIntentsTotal,
		paymentResolutionsTotal,
		paymentRevenueTotal,
		gatewayReturnsTotal,
		checkoutRejectedTotal,
	)
}

var (
	paymentIntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_intents_created_total",
			Help: "Payment intents created, by method.",
		},
		[]string{"method"},
	)

	paymentResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_resolutions_total",
			Help: "Intent resolutions by method and outcome (success/failed/noop).",
		},
		[]string{"method", "outcome"},
	)

	paymentRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_revenue_total",
			Help: "Total value of successful payments in the smallest currency unit.",
		},
		[]string{"method"},
	)

	gatewayReturnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_returns_total",
			Help: "Gateway return callbacks by redirect outcome.",
		},
		[]string{"outcome"}, // success, invalid, notfound, failed
	)

	checkoutRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_rejected_total",
			Help: "Checkout attempts refused before an intent was created.",
		},
		[]string{"reason"}, // rate_limited, price_mismatch, invalid
	)
)

func IncIntentCreated(method string) {
	paymentIntentsTotal.WithLabelValues(norm(method)).Inc()
}

func IncResolution(method, outcome string) {
	paymentResolutionsTotal.WithLabelValues(norm(method), norm(outcome)).Inc()
}

func AddRevenue(method string, amount int64) {
	paymentRevenueTotal.WithLabelValues(norm(method)).Add(float64(amount))
}

func IncGatewayReturn(outcome string) {
	gatewayReturnsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncCheckoutRejected(reason string) {
	checkoutRejectedTotal.WithLabelValues(norm(reason)).Inc()
}
