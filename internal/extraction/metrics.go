package extraction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FailuresTotal counts extractions that fell back to default characteristics.
// Labels: stage (style, rect, viewport, attributes, text, descendants, panic, nil)
var FailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "popguard",
		Subsystem: "extraction",
		Name:      "failures_total",
		Help:      "Total number of feature extractions that returned defaults",
	},
	[]string{"stage"},
)

func recordFailure(stage string) {
	FailuresTotal.WithLabelValues(stage).Inc()
}
