package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "contexd",
		Subsystem: "notify",
		Name:      "events_processed_total",
		Help:      "Entity change events consumed by the dispatch engine.",
	})
	notificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "contexd",
		Subsystem: "notify",
		Name:      "notifications_sent_total",
		Help:      "Notifications delivered with a 2xx response.",
	})
	notificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "contexd",
		Subsystem: "notify",
		Name:      "notifications_failed_total",
		Help:      "Notification deliveries that failed or returned non-2xx.",
	})
	notificationsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "contexd",
		Subsystem: "notify",
		Name:      "notifications_throttled_total",
		Help:      "Notifications suppressed by per-subscription throttling.",
	})
	notificationsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "contexd",
		Subsystem: "notify",
		Name:      "notifications_skipped_total",
		Help:      "Dispatch attempts skipped because the subscription is expired or failed.",
	})
)
