package decision

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/popup"
)

// Logger wraps zap.Logger with coordinator-specific structured logging.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("decision")}
}

// Detected logs a new pending decision.
func (l *Logger) Detected(ctx context.Context, p Pending) {
	fields := l.baseFields(ctx, p.TabID, p.PopupID)
	fields = append(fields,
		zap.String("domain", p.Domain),
		zap.String("state", string(p.State)),
		zap.Float64("score", p.Score.Value),
		zap.Bool("suggested", p.Suggestion != nil),
	)
	l.logger.Info("pending decision created", fields...)
}

// Settled logs the end of a pending decision.
func (l *Logger) Settled(ctx context.Context, r *popup.Record, state State, waited time.Duration) {
	fields := l.baseFields(ctx, r.TabID, r.PopupID)
	fields = append(fields,
		zap.String("decision", string(r.Decision)),
		zap.String("state", string(state)),
		zap.Duration("waited", waited),
	)
	if r.Decision == popup.DecisionTimeout {
		l.logger.Info("pending decision expired", fields...)
		return
	}
	l.logger.Info("pending decision resolved", fields...)
}

// AutoResolved logs a candidate settled from a suggestion.
func (l *Logger) AutoResolved(ctx context.Context, r *popup.Record, patternID string) {
	fields := l.baseFields(ctx, r.TabID, r.PopupID)
	fields = append(fields,
		zap.String("decision", string(r.Decision)),
		zap.String("pattern_id", patternID),
	)
	l.logger.Info("candidate auto-resolved", fields...)
}

// Failure logs a collaborator failure that was absorbed.
func (l *Logger) Failure(ctx context.Context, tabID, popupID, op string, err error) {
	fields := l.baseFields(ctx, tabID, popupID)
	fields = append(fields, zap.String("op", op), zap.Error(err))
	l.logger.Warn("collaborator failed", fields...)
}

func (l *Logger) baseFields(ctx context.Context, tabID, popupID string) []zap.Field {
	fields := []zap.Field{
		zap.String("tab_id", tabID),
		zap.String("popup_id", popupID),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	return fields
}
