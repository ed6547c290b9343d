package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_upstream_requests_total",
		Help: "Total requests issued to the upstream transit API, by result.",
	}, []string{"result"})

	UpstreamRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_upstream_retries_total",
		Help: "Total retry attempts against the upstream transit API.",
	})

	AlertsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_alerts_fired_total",
		Help: "Total delay alerts that passed the evaluator and were published.",
	})

	NotificationsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_notifications_queued_total",
		Help: "Total notification jobs enqueued for delivery.",
	})

	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_notifications_sent_total",
		Help: "Total notifications accepted by the email gateway.",
	})

	NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_notifications_failed_total",
		Help: "Total notifications that exhausted retries and were dead lettered.",
	})
)
