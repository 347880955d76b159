package throttle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal counts detection attempts by verdict reason.
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "popguard",
			Subsystem: "throttle",
			Name:      "attempts_total",
			Help:      "Total number of detection attempts seen by the governor",
		},
		[]string{"reason"},
	)

	// AdjustmentsTotal counts adaptive limit changes.
	// Labels: direction (shrink, relax), cause (latency, memory, healthy)
	AdjustmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "popguard",
			Subsystem: "throttle",
			Name:      "adjustments_total",
			Help:      "Total number of adaptive throttle limit changes",
		},
		[]string{"direction", "cause"},
	)
)

func recordVerdict(r Reason) {
	AttemptsTotal.WithLabelValues(string(r)).Inc()
}

func recordAdjustment(direction, cause string) {
	AdjustmentsTotal.WithLabelValues(direction, cause).Inc()
}
