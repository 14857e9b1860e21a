package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		providerRequestLatencyMs,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payments by phase (trial/renewal) and status (succeeded/failed/canceled/expired).",
		},
		[]string{"phase", "status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "Total monetary value of successful payments, labeled by currency.",
		},
		[]string{"currency"},
	)

	providerRequestLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_latency_ms",
			Help:    "Payment provider HTTP call latency in milliseconds.",
			Buckets: []float64{25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
		},
		[]string{"op", "success"},
	)
)

func IncPayment(phase, status string) {
	paymentsTotal.WithLabelValues(norm(phase), norm(status)).Inc()
}

func AddPaymentRevenue(currency string, amount float64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(amount)
}

func ObserveProviderCall(op string, latencyMs int64, success bool) {
	providerRequestLatencyMs.WithLabelValues(norm(op), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}
