package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookEventsTotal,
		webhookDuplicatesTotal,
		dedupHitsTotal,
		dedupErrorsTotal,
	)
}

var (
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Provider webhook events by status and outcome (processed/skipped/error).",
		},
		[]string{"status", "outcome"},
	)

	webhookDuplicatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_duplicates_total",
			Help: "Webhook deliveries dropped as already-seen (payment_id, status).",
		},
	)

	dedupHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_hits_total",
			Help: "Dedup-store claims that found the key already set.",
		},
	)

	dedupErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_errors_total",
			Help: "Dedup-store operations that failed (fail-closed path).",
		},
	)
)

func IncWebhookEvent(status, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(status), norm(outcome)).Inc()
}

func IncWebhookDuplicate() { webhookDuplicatesTotal.Inc() }

func IncDedupHit() { dedupHitsTotal.Inc() }

func IncDedupError() { dedupErrorsTotal.Inc() }
