package decision

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/popguard/internal/decision"

// Metrics provides OpenTelemetry metrics for the coordinator.
type Metrics struct {
	detectedTotal metric.Int64Counter
	settledTotal  metric.Int64Counter
	activeCount   metric.Int64UpDownCounter
	pendingTime   metric.Float64Histogram

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

	m.detectedTotal, err = meter.Int64Counter(
		"decision.detected.total",
		metric.WithDescription("Candidates handled by the coordinator, by outcome"),
		metric.WithUnit("{candidate}"),
	)
	if err != nil {
		return nil, err
	}

	m.settledTotal, err = meter.Int64Counter(
		"decision.settled.total",
		metric.WithDescription("Pending decisions settled, by decision"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	// Gauge semantics via UpDownCounter.
	m.activeCount, err = meter.Int64UpDownCounter(
		"decision.pending.active.count",
		metric.WithDescription("Number of open pending decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	m.pendingTime, err = meter.Float64Histogram(
		"decision.pending.duration.seconds",
		metric.WithDescription("Time from detection to settlement"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2, 5, 10, 15, 30, 60, 300),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

func (m *Metrics) recordDetected(ctx context.Context, outcome Outcome) {
	if m == nil || !m.initialized {
		return
	}
	m.detectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	if outcome == OutcomeAwaitingUser || outcome == OutcomeAutoSuggested {
		m.activeCount.Add(ctx, 1)
	}
}

func (m *Metrics) recordSettled(ctx context.Context, decision string, wasPending bool, d time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	m.settledTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
	if wasPending {
		m.activeCount.Add(ctx, -1)
		m.pendingTime.Record(ctx, d.Seconds())
	}
}

// Tracer returns a tracer for the decision package.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartSpan starts a span carrying the tab and popup ids.
func StartSpan(ctx context.Context, name, tabID, popupID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("popguard.tab_id", tabID),
		attribute.String("popguard.popup_id", popupID),
	))
}

// setSpanError records err on span and marks it failed.
func setSpanError(span trace.Span, err error) {
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
