package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		chargeTicksTotal,
		chargeAttemptsTotal,
		chargeGuardDenialsTotal,
		chargeDueGauge,
	)
}

var (
	chargeTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "charge_ticks_total",
			Help: "Scheduler sweeps over due subscriptions.",
		},
	)

	chargeAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charge_attempts_total",
			Help: "Recurring charge attempts by outcome (issued/provider_error/recurring_unavailable/skipped).",
		},
		[]string{"outcome"},
	)

	chargeGuardDenialsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "charge_guard_denials_total",
			Help: "Charge candidates rejected at claim time by the retry guards.",
		},
	)

	chargeDueGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "charge_due_subscriptions",
			Help: "Due subscriptions found on the last scheduler sweep.",
		},
	)
)

func IncChargeTick() { chargeTicksTotal.Inc() }

func IncChargeAttempt(outcome string) { chargeAttemptsTotal.WithLabelValues(norm(outcome)).Inc() }

func AddChargeAttempts(outcome string, n int) {
	chargeAttemptsTotal.WithLabelValues(norm(outcome)).Add(float64(n))
}

func IncChargeGuardDenial() { chargeGuardDenialsTotal.Inc() }

func AddChargeGuardDenials(n int) { chargeGuardDenialsTotal.Add(float64(n)) }

func SetChargeDueSubscriptions(n int) { chargeDueGauge.Set(float64(n)) }
