package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/popguard/internal/decision"
	"github.com/fyrsmithlabs/popguard/internal/eviction"
	"github.com/fyrsmithlabs/popguard/internal/learning"
	"github.com/fyrsmithlabs/popguard/internal/scoring"
	"github.com/fyrsmithlabs/popguard/internal/throttle"
)

// Maintenance defaults.
const (
	DefaultMaintenanceInterval = 30 * time.Second
	DefaultCleanupInterval     = time.Hour
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid engine config")

// Config assembles the configuration of every component.
type Config struct {
	Learning   learning.Config
	Weights    scoring.Weights
	Thresholds scoring.Thresholds
	Decision   decision.Config
	Throttle   throttle.Config
	Eviction   eviction.Config

	// MaintenanceInterval paces the stale sweep, history flush and memory
	// sampling.
	MaintenanceInterval time.Duration

	// CleanupInterval paces pattern cleanup.
	CleanupInterval time.Duration

	// Notifications enables detection and resolution notifications.
	Notifications bool
}

// DefaultConfig returns the defaults of every component.
func DefaultConfig() Config {
	return Config{
		Learning:            learning.DefaultConfig(),
		Weights:             scoring.DefaultWeights(),
		Thresholds:          scoring.DefaultThresholds(),
		Decision:            decision.DefaultConfig(),
		Throttle:            throttle.DefaultConfig(),
		Eviction:            eviction.DefaultConfig(),
		MaintenanceInterval: DefaultMaintenanceInterval,
		CleanupInterval:     DefaultCleanupInterval,
		Notifications:       true,
	}
}

// Validate checks every component configuration.
func (c Config) Validate() error {
	if err := c.Learning.Validate(); err != nil {
		return err
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if err := c.Throttle.Validate(); err != nil {
		return err
	}
	if err := c.Eviction.Validate(); err != nil {
		return err
	}
	if c.Decision.Timeout <= 0 {
		return fmt.Errorf("%w: pending decision timeout must be positive", ErrInvalidConfig)
	}
	if c.MaintenanceInterval <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("%w: maintenance intervals must be positive", ErrInvalidConfig)
	}
	return nil
}
