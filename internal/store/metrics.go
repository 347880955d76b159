package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OperationsTotal counts store operations.
// Labels: op (get, set, remove), namespace, result (success, error)
var OperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "popguard",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Total number of persistent store operations",
	},
	[]string{"op", "namespace", "result"},
)

// RecordOperation records the outcome of a store operation.
func RecordOperation(op string, ns Namespace, success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	OperationsTotal.WithLabelValues(op, string(ns), result).Inc()
}
