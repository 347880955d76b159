package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/config"
)

func TestRedactingEncoder_EntryFields(t *testing.T) {
	l, buf := bufferLogger(t, nil)

	l.Info(context.Background(), "publishing",
		zap.String("nats_token", "hunter2"),
		zap.String("url", "https://shop.example.com/cart?session=abc123#pay"),
		zap.String("header", "Bearer eyJhbGciOi"),
		zap.String("domain", "shop.example.com"),
	)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	e := lines[0]
	assert.Equal(t, "[REDACTED]", e["nats_token"])
	assert.Equal(t, "https://shop.example.com/cart", e["url"])
	assert.Equal(t, "[REDACTED:pattern]", e["header"])
	assert.Equal(t, "shop.example.com", e["domain"])
	assert.NotContains(t, buf.String(), "hunter2")
	assert.NotContains(t, buf.String(), "abc123")
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	l, buf := bufferLogger(t, nil)

	l.With(zap.String("page_url", "https://news.example.com/a?utm=x"), zap.Any("password", map[string]string{"a": "b"})).
		Info(context.Background(), "child")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "https://news.example.com/a", lines[0]["page_url"])
	assert.Equal(t, "[REDACTED]", lines[0]["password"])
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	l, buf := bufferLogger(t, func(c *Config) { c.Redaction.Enabled = false })

	l.Info(context.Background(), "raw", zap.String("url", "https://a.example/?q=1"))
	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "https://a.example/?q=1", lines[0]["url"])
}

func TestNewRedactingEncoder_BadPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)
}

func TestStripQuery(t *testing.T) {
	assert.Equal(t, "https://example.com/a/b", StripQuery("https://user:pw@example.com/a/b?x=1#frag"))
	assert.Equal(t, "/relative", StripQuery("/relative?y=2"))
	assert.Equal(t, "[REDACTED:url]", StripQuery("http://[::1"))
}

func TestSecretField(t *testing.T) {
	l, buf := bufferLogger(t, nil)
	l.Info(context.Background(), "connected", Secret("credentials", config.Secret("s3cr3t")), RedactedString("cookie_value", "abcdef"))

	assert.NotContains(t, buf.String(), "s3cr3t")
	assert.Contains(t, buf.String(), "[REDACTED:6]")
}
