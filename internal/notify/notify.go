// Package notify delivers fire-and-forget detection notifications.
//
// Channels never return errors: a notification that cannot be delivered is
// logged and counted, and the pipeline carries on.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Kind names a notification type. It is the last NATS subject token.
type Kind string

// Kinds of notification.
const (
	KindDetection  Kind = "detection"
	KindResolution Kind = "resolution"
)

// Notification describes one pipeline event.
type Notification struct {
	Kind      Kind      `json:"kind"`
	TabID     string    `json:"tab_id"`
	PopupID   string    `json:"popup_id"`
	Domain    string    `json:"domain,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	Score     float64   `json:"score,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Suggested string    `json:"suggested,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel delivers notifications.
type Channel interface {
	Notify(ctx context.Context, n Notification)
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

// LogChannel writes notifications to a zap logger.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel creates a LogChannel.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger.Named("notify")}
}

func (l *LogChannel) Notify(_ context.Context, n Notification) {
	l.logger.Info("popup "+string(n.Kind),
		zap.String("tab_id", n.TabID),
		zap.String("popup_id", n.PopupID),
		zap.String("domain", n.Domain),
		zap.String("tier", n.Tier),
		zap.Float64("score", n.Score),
		zap.String("outcome", n.Outcome),
		zap.String("decision", n.Decision))
	recordNotification("log", true)
}

// Multi fans a notification out to every channel.
type Multi []Channel

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, ch := range m {
		if ch != nil {
			ch.Notify(ctx, n)
		}
	}
}

// Limited caps the notification rate of a channel. Notifications over budget
// are dropped, not queued.
type Limited struct {
	inner   Channel
	limiter *rate.Limiter
	dropped atomic.Int64
}

// NewLimited allows perSecond notifications with the given burst.
func NewLimited(inner Channel, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) Notify(ctx context.Context, n Notification) {
	if !l.limiter.Allow() {
		l.dropped.Add(1)
		recordNotification("limited", false)
		return
	}
	l.inner.Notify(ctx, n)
}

// Dropped returns how many notifications were dropped.
func (l *Limited) Dropped() int64 {
	return l.dropped.Load()
}
