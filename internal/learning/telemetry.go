package learning

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/popguard/internal/learning"

// Metrics provides OpenTelemetry metrics for the pattern store.
type Metrics struct {
	learnTotal      metric.Int64Counter
	suggestionTotal metric.Int64Counter
	removedTotal    metric.Int64Counter
	confidence      metric.Float64Histogram

	initialized bool
}

// NewMetrics creates metrics from meter, or from the global provider when
// meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.learnTotal, err = meter.Int64Counter(
		"learning.decisions.total",
		metric.WithDescription("Decisions processed by the pattern store, by action"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	m.suggestionTotal, err = meter.Int64Counter(
		"learning.suggestions.total",
		metric.WithDescription("Suggestion lookups, by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	m.removedTotal, err = meter.Int64Counter(
		"learning.patterns.removed.total",
		metric.WithDescription("Patterns removed by cleanup"),
		metric.WithUnit("{pattern}"),
	)
	if err != nil {
		return nil, err
	}

	m.confidence, err = meter.Float64Histogram(
		"learning.pattern.confidence",
		metric.WithDescription("Pattern confidence after each update"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0.1, 0.3, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

func (m *Metrics) recordLearn(ctx context.Context, action Action, confidence float64) {
	if m == nil || !m.initialized {
		return
	}
	m.learnTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(action))))
	if action == ActionCreated || action == ActionReinforced || action == ActionDecayed {
		m.confidence.Record(ctx, confidence)
	}
}

func (m *Metrics) recordSuggestion(ctx context.Context, hit bool) {
	if m == nil || !m.initialized {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.suggestionTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) recordRemoved(ctx context.Context, n int) {
	if m == nil || !m.initialized || n == 0 {
		return
	}
	m.removedTotal.Add(ctx, int64(n))
}
