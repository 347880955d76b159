package main

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/config"
	"github.com/fyrsmithlabs/popguard/internal/decision"
	"github.com/fyrsmithlabs/popguard/internal/engine"
	"github.com/fyrsmithlabs/popguard/internal/eviction"
	"github.com/fyrsmithlabs/popguard/internal/learning"
	"github.com/fyrsmithlabs/popguard/internal/notify"
	"github.com/fyrsmithlabs/popguard/internal/scoring"
	"github.com/fyrsmithlabs/popguard/internal/store"
	"github.com/fyrsmithlabs/popguard/internal/throttle"
)

// engineConfig maps the file configuration onto the engine's.
func engineConfig(c *config.Config) engine.Config {
	e := c.Engine
	t := c.Throttle
	return engine.Config{
		Learning: learning.Config{
			Enabled:             e.LearningEnabled,
			SimilarityThreshold: e.SimilarityThreshold,
			SuggestionThreshold: e.SuggestionConfidenceThreshold,
			DecayFloor:          e.PatternDecayMinConfidence,
			MaxAge:              config.Days(e.PatternMaxAgeDays),
		},
		Weights:    e.Weights,
		Thresholds: scoring.Thresholds{High: e.HighThreshold, Medium: e.MediumThreshold},
		Decision: decision.Config{
			Timeout:    config.Milliseconds(e.PendingDecisionTimeoutMs),
			AutoAction: e.AutoAction,
		},
		Throttle: throttle.Config{
			Limit:           t.MaxDetectionsPerWindow,
			Window:          config.Milliseconds(t.WindowMs),
			MinLimit:        t.MinLimit,
			LatencyBudget:   t.LatencyBudget.Duration(),
			MemoryThreshold: uint64(t.MemoryThresholdMB) << 20,
			ShrinkFactor:    t.ShrinkFactor,
			RelaxFactor:     t.RelaxFactor,
			HealthyWindows:  t.HealthyWindows,
		},
		Eviction: eviction.Config{
			HistoryCap:        c.Eviction.HistoryCap,
			DecisionsCap:      c.Eviction.DecisionsCap,
			PendingStaleAfter: c.Eviction.PendingStaleAfter.Duration(),
			PressureFraction:  c.Eviction.PressureFraction,
		},
		MaintenanceInterval: e.MaintenanceInterval.Duration(),
		CleanupInterval:     e.CleanupInterval.Duration(),
		Notifications:       e.NotificationsEnabled,
	}
}

// openStore opens the configured persistent store.
func openStore(c *config.Config, logger *zap.Logger) (store.Store, error) {
	if c.Store.Driver == "memory" {
		return store.NewMemoryStore(), nil
	}
	path, err := config.ExpandPath(c.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid store path: %w", err)
	}
	return store.OpenSQLite(path, logger)
}

// buildNotifier assembles the notification channels. The returned func
// releases the NATS connection, if any.
func buildNotifier(c *config.Config, logger *zap.Logger) (notify.Channel, func(), error) {
	var channels notify.Multi
	closeFn := func() {}

	if c.Notify.Log {
		channels = append(channels, notify.NewLogChannel(logger))
	}
	if c.Notify.NATSURL != "" {
		var opts []nats.Option
		if c.Notify.NATSToken.IsSet() {
			opts = append(opts, nats.Token(c.Notify.NATSToken.Value()))
		}
		nc, err := notify.ConnectNATS(c.Notify.NATSURL, "popguard", opts...)
		if err != nil {
			return nil, closeFn, err
		}
		closeFn = func() { _ = nc.Drain() }
		channels = append(channels, notify.NewNATSChannel(nc, c.Notify.SubjectPrefix, logger))
		logger.Info("connected to NATS", zap.String("subject_prefix", c.Notify.SubjectPrefix))
	}

	var ch notify.Channel = channels
	switch {
	case len(channels) == 0:
		ch = notify.Nop{}
	case c.Notify.RatePerSecond > 0:
		ch = notify.NewLimited(channels, c.Notify.RatePerSecond, c.Notify.Burst)
	}
	return ch, closeFn, nil
}
