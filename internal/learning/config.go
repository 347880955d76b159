package learning

import (
	"errors"
	"fmt"
	"time"
)

// Defaults.
const (
	DefaultSimilarityThreshold = 0.7
	DefaultSuggestionThreshold = 0.8
	DefaultInitialConfidence   = 0.6
	DefaultDecayFloor          = 0.3
	DefaultMaxAge              = 30 * 24 * time.Hour
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid learning config")

// Config controls the pattern store. It can be changed at runtime with
// Store.SetConfig.
type Config struct {
	Enabled             bool
	SimilarityThreshold float64
	SuggestionThreshold float64
	DecayFloor          float64
	MaxAge              time.Duration
}

// DefaultConfig returns learning enabled with the default thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		SimilarityThreshold: DefaultSimilarityThreshold,
		SuggestionThreshold: DefaultSuggestionThreshold,
		DecayFloor:          DefaultDecayFloor,
		MaxAge:              DefaultMaxAge,
	}
}

// Validate checks that thresholds are probabilities and MaxAge is positive.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"similarity_threshold": c.SimilarityThreshold,
		"suggestion_threshold": c.SuggestionThreshold,
		"decay_floor":          c.DecayFloor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be between 0 and 1, got %v", ErrInvalidConfig, name, v)
		}
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("%w: max age must be positive", ErrInvalidConfig)
	}
	return nil
}
