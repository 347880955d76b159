package eviction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EvictedTotal counts entries removed from the history logs.
	// Labels: log (history, decisions), reason (capacity, pressure)
	EvictedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "popguard",
			Subsystem: "eviction",
			Name:      "evicted_total",
			Help:      "Total number of log entries evicted",
		},
		[]string{"log", "reason"},
	)

	// StaleExpiredTotal counts pending decisions force-expired by the sweep.
	StaleExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "popguard",
			Subsystem: "eviction",
			Name:      "stale_pending_expired_total",
			Help:      "Total number of stale pending decisions force-expired",
		},
	)

	// LogEntries reports the current size of each log.
	LogEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "popguard",
			Subsystem: "eviction",
			Name:      "log_entries",
			Help:      "Current number of entries per history log",
		},
		[]string{"log"},
	)
)

func recordEvicted(log, reason string, n int) {
	if n > 0 {
		EvictedTotal.WithLabelValues(log, reason).Add(float64(n))
	}
}
