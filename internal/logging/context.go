package logging

import (
	"context"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if id := TabIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("tab_id", id))
	}
	if id := PopupIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("popup_id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return fields
}

type (
	tabCtxKey     struct{}
	popupCtxKey   struct{}
	requestCtxKey struct{}
	loggerCtxKey  struct{}
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// ValidID reports whether id may be attached to a context. IDs arrive from
// browser tabs, so anything that could forge log structure is refused.
func ValidID(id string) bool {
	return id != "" &&
		len(id) <= maxIDLen &&
		utf8.ValidString(id) &&
		idPattern.MatchString(id)
}

func withID(ctx context.Context, key any, id string) context.Context {
	if !ValidID(id) {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key any) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithTabID adds the browser tab ID to ctx. Invalid IDs are not attached.
func WithTabID(ctx context.Context, id string) context.Context {
	return withID(ctx, tabCtxKey{}, id)
}

// TabIDFromContext returns the tab ID, or "".
func TabIDFromContext(ctx context.Context) string { return idFrom(ctx, tabCtxKey{}) }

// WithPopupID adds the popup ID to ctx. Invalid IDs are not attached.
func WithPopupID(ctx context.Context, id string) context.Context {
	return withID(ctx, popupCtxKey{}, id)
}

// PopupIDFromContext returns the popup ID, or "".
func PopupIDFromContext(ctx context.Context) string { return idFrom(ctx, popupCtxKey{}) }

// WithRequestID adds the HTTP request ID to ctx. Invalid IDs are not
// attached.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string { return idFrom(ctx, requestCtxKey{}) }

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
