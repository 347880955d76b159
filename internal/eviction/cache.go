// Package eviction bounds the engine's memory: capped history logs, a
// staleness sweep over pending decisions, and proactive eviction under
// reported memory pressure.
package eviction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/popup"
	"github.com/fyrsmithlabs/popguard/internal/store"
)

// Defaults.
const (
	DefaultHistoryCap        = 1000
	DefaultDecisionsCap      = 500
	DefaultPendingStaleAfter = 5 * time.Minute
	DefaultPressureFraction  = 0.3
)

// Persistence keys inside the history namespaces.
const (
	historyKey   = "records"
	decisionsKey = "entries"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid eviction config")

// Config configures a Cache.
type Config struct {
	HistoryCap        int
	DecisionsCap      int
	PendingStaleAfter time.Duration
	PressureFraction  float64
}

// DefaultConfig returns the default caps and windows.
func DefaultConfig() Config {
	return Config{
		HistoryCap:        DefaultHistoryCap,
		DecisionsCap:      DefaultDecisionsCap,
		PendingStaleAfter: DefaultPendingStaleAfter,
		PressureFraction:  DefaultPressureFraction,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.HistoryCap < 1 || c.DecisionsCap < 1:
		return fmt.Errorf("%w: caps must be positive", ErrInvalidConfig)
	case c.PendingStaleAfter <= 0:
		return fmt.Errorf("%w: pending stale window must be positive", ErrInvalidConfig)
	case c.PressureFraction <= 0 || c.PressureFraction > 1:
		return fmt.Errorf("%w: pressure fraction must be in (0,1]", ErrInvalidConfig)
	}
	return nil
}

// PendingTable exposes in-flight pending decisions to the staleness sweep.
type PendingTable interface {
	// PendingSince returns the creation time of every open pending decision,
	// keyed by popup ID.
	PendingSince() map[string]time.Time

	// ForceExpire settles popupID as timed out. It returns false when the
	// entry was already settled.
	ForceExpire(ctx context.Context, popupID string) bool
}

// Cache owns the popup history and user decision logs.
type Cache struct {
	cfg       Config
	history   *Log[popup.Record]
	decisions *Log[popup.DecisionEntry]
	dirty     atomic.Bool

	persist store.Store
	logger  *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithPersistence mirrors the logs into s.
func WithPersistence(s store.Store) Option {
	return func(c *Cache) { c.persist = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCache creates empty logs.
func NewCache(cfg Config, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Cache{
		cfg:       cfg,
		history:   NewLog(cfg.HistoryCap, func(r popup.Record) time.Time { return r.Timestamp }),
		decisions: NewLog(cfg.DecisionsCap, func(e popup.DecisionEntry) time.Time { return e.Timestamp }),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("eviction")
	return c, nil
}

// Append records a settled popup. User choices also go to the decisions log;
// timeouts and auto-resolutions are history only.
func (c *Cache) Append(_ context.Context, r popup.Record) {
	recordEvicted("history", "capacity", c.history.Append(r))
	if r.Decision.UserChoice() && !r.AutoResolved {
		recordEvicted("decisions", "capacity", c.decisions.Append(r.Entry()))
	}
	c.dirty.Store(true)
	c.updateGauges()
}

// History returns the popup history, oldest first.
func (c *Cache) History() []popup.Record {
	return c.history.Items()
}

// Decisions returns the user decision log, oldest first.
func (c *Cache) Decisions() []popup.DecisionEntry {
	return c.decisions.Items()
}

// SweepPending force-expires pending decisions older than PendingStaleAfter
// and returns how many were expired.
func (c *Cache) SweepPending(ctx context.Context, table PendingTable, now time.Time) int {
	expired := 0
	for id, since := range table.PendingSince() {
		if now.Sub(since) < c.cfg.PendingStaleAfter {
			continue
		}
		if table.ForceExpire(ctx, id) {
			expired++
			c.logger.Warn("stale pending decision expired",
				zap.String("popup_id", id),
				zap.Duration("age", now.Sub(since)))
		}
	}
	if expired > 0 {
		StaleExpiredTotal.Add(float64(expired))
	}
	return expired
}

// ReportMemoryPressure evicts PressureFraction of the oldest entries from
// each log and returns the total evicted.
func (c *Cache) ReportMemoryPressure(_ context.Context) int {
	h := c.history.EvictOldest(c.pressureCount(c.history.Len()))
	d := c.decisions.EvictOldest(c.pressureCount(c.decisions.Len()))
	recordEvicted("history", "pressure", h)
	recordEvicted("decisions", "pressure", d)
	if h+d > 0 {
		c.dirty.Store(true)
		c.logger.Info("evicted under memory pressure", zap.Int("history", h), zap.Int("decisions", d))
	}
	c.updateGauges()
	return h + d
}

func (c *Cache) pressureCount(n int) int {
	return int(math.Ceil(float64(n) * c.cfg.PressureFraction))
}

// Load replaces both logs with their persisted contents.
func (c *Cache) Load(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}
	var records []popup.Record
	if _, err := store.GetJSON(ctx, c.persist, store.NamespacePopupHistory, historyKey, &records); err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	var entries []popup.DecisionEntry
	if _, err := store.GetJSON(ctx, c.persist, store.NamespaceUserDecisions, decisionsKey, &entries); err != nil {
		return fmt.Errorf("failed to load decisions: %w", err)
	}

	c.history.Replace(records)
	c.decisions.Replace(entries)
	c.dirty.Store(false)
	c.updateGauges()
	c.logger.Info("history loaded", zap.Int("records", c.history.Len()), zap.Int("decisions", c.decisions.Len()))
	return nil
}

// Flush writes both logs if they changed since the last flush.
func (c *Cache) Flush(ctx context.Context) error {
	if c.persist == nil || !c.dirty.Swap(false) {
		return nil
	}
	if err := store.SetJSON(ctx, c.persist, store.NamespacePopupHistory, historyKey, c.history.Items()); err != nil {
		c.dirty.Store(true)
		return fmt.Errorf("failed to flush history: %w", err)
	}
	if err := store.SetJSON(ctx, c.persist, store.NamespaceUserDecisions, decisionsKey, c.decisions.Items()); err != nil {
		c.dirty.Store(true)
		return fmt.Errorf("failed to flush decisions: %w", err)
	}
	return nil
}

// Dirty reports whether there are unflushed changes.
func (c *Cache) Dirty() bool {
	return c.dirty.Load()
}

func (c *Cache) updateGauges() {
	LogEntries.WithLabelValues("history").Set(float64(c.history.Len()))
	LogEntries.WithLabelValues("decisions").Set(float64(c.decisions.Len()))
}
