package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NotificationsTotal counts notifications by channel and result.
var NotificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "popguard",
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Total number of notifications by channel and result",
	},
	[]string{"channel", "result"},
)

func recordNotification(channel string, delivered bool) {
	result := "delivered"
	if !delivered {
		result = "dropped"
	}
	NotificationsTotal.WithLabelValues(channel, result).Inc()
}
