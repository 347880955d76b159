package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/learning"
	"github.com/fyrsmithlabs/popguard/internal/store"
)

const preferencesKey = "preferences"

// Preferences are the user-adjustable settings. They are persisted in the
// userPreferences namespace and take effect immediately.
type Preferences struct {
	LearningEnabled     bool    `json:"learning_enabled"`
	AutoAction          bool    `json:"auto_action"`
	SuggestionThreshold float64 `json:"suggestion_confidence_threshold"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	DecayFloor          float64 `json:"pattern_decay_min_confidence"`
	MaxAgeDays          int     `json:"pattern_max_age_days"`
	Notifications       bool    `json:"notifications_enabled"`
}

// PreferencesFrom derives preferences from a configuration.
func PreferencesFrom(cfg Config) Preferences {
	return Preferences{
		LearningEnabled:     cfg.Learning.Enabled,
		AutoAction:          cfg.Decision.AutoAction,
		SuggestionThreshold: cfg.Learning.SuggestionThreshold,
		SimilarityThreshold: cfg.Learning.SimilarityThreshold,
		DecayFloor:          cfg.Learning.DecayFloor,
		MaxAgeDays:          int(cfg.Learning.MaxAge / (24 * time.Hour)),
		Notifications:       cfg.Notifications,
	}
}

// learningConfig converts p into a learning.Config.
func (p Preferences) learningConfig() learning.Config {
	return learning.Config{
		Enabled:             p.LearningEnabled,
		SimilarityThreshold: p.SimilarityThreshold,
		SuggestionThreshold: p.SuggestionThreshold,
		DecayFloor:          p.DecayFloor,
		MaxAge:              time.Duration(p.MaxAgeDays) * 24 * time.Hour,
	}
}

// Validate checks thresholds and ages.
func (p Preferences) Validate() error {
	if err := p.learningConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPreferences, err)
	}
	return nil
}

// Preferences returns the current preferences.
func (e *Engine) Preferences() Preferences {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prefs
}

// SetPreferences validates, applies and persists p.
func (e *Engine) SetPreferences(ctx context.Context, p Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.applyPreferences(p)
	if err := store.SetJSON(ctx, e.persist, store.NamespacePreferences, preferencesKey, p); err != nil {
		e.logger.Warn("failed to persist preferences", zap.Error(err))
	}
	e.logger.Info("preferences updated",
		zap.Bool("learning_enabled", p.LearningEnabled),
		zap.Bool("auto_action", p.AutoAction))
	return nil
}

func (e *Engine) applyPreferences(p Preferences) {
	e.patterns.SetConfig(p.learningConfig())

	e.mu.Lock()
	e.prefs = p
	sessions := e.sessionsLocked()
	e.mu.Unlock()

	for _, s := range sessions {
		s.coord.SetAutoAction(p.AutoAction)
	}
}

// loadPreferences applies persisted preferences, if any.
func (e *Engine) loadPreferences(ctx context.Context) {
	var p Preferences
	found, err := store.GetJSON(ctx, e.persist, store.NamespacePreferences, preferencesKey, &p)
	if err != nil {
		e.logger.Warn("failed to load preferences", zap.Error(err))
		return
	}
	if !found {
		return
	}
	if err := p.Validate(); err != nil {
		e.logger.Warn("ignoring invalid stored preferences", zap.Error(err))
		return
	}
	e.applyPreferences(p)
}
