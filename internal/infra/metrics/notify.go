package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		notificationsTotal,
		notificationSkipsTotal,
	)
}

var (
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notifications dispatched, labeled by scenario.",
		},
		[]string{"scenario"},
	)

	notificationSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_skipped_total",
			Help: "Notifications suppressed, labeled by scenario and reason (dedup/window/send_error).",
		},
		[]string{"scenario", "reason"},
	)
)

func IncNotificationSent(scenario string) {
	notificationsTotal.WithLabelValues(norm(scenario)).Inc()
}

func AddNotificationsSent(scenario string, n int) {
	notificationsTotal.WithLabelValues(norm(scenario)).Add(float64(n))
}

func IncNotificationSkipped(scenario, reason string) {
	notificationSkipsTotal.WithLabelValues(norm(scenario), norm(reason)).Inc()
}

func AddNotificationsSkipped(scenario, reason string, n int) {
	notificationSkipsTotal.WithLabelValues(norm(scenario), norm(reason)).Add(float64(n))
}
