package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix roots every subject published by NATSChannel.
const DefaultSubjectPrefix = "popguard.events"

// NATSChannel publishes notifications as JSON on
// <prefix>.<tab>.<kind>.
type NATSChannel struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// ConnectNATS dials url with reconnects enabled. opts are applied after the
// defaults.
func ConnectNATS(url, name string, opts ...nats.Option) (*nats.Conn, error) {
	base := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NewNATSChannel publishes on nc. An empty prefix uses DefaultSubjectPrefix.
func NewNATSChannel(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSChannel {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSChannel{conn: nc, prefix: prefix, logger: logger.Named("notify.nats")}
}

// Subject returns the subject n is published on.
func (c *NATSChannel) Subject(n Notification) string {
	return c.prefix + "." + subjectToken(n.TabID) + "." + subjectToken(string(n.Kind))
}

func (c *NATSChannel) Notify(_ context.Context, n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		c.fail(n, err)
		return
	}
	if err := c.conn.Publish(c.Subject(n), data); err != nil {
		c.fail(n, err)
		return
	}
	recordNotification("nats", true)
}

func (c *NATSChannel) fail(n Notification, err error) {
	recordNotification("nats", false)
	c.logger.Debug("failed to publish notification",
		zap.String("tab_id", n.TabID),
		zap.String("popup_id", n.PopupID),
		zap.Error(err))
}

// subjectToken makes s safe as a single NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
