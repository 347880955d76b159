// Package config loads popguard configuration.
//
// Values come from three layers, highest precedence first: environment
// variables, the YAML config file, and the defaults returned by Default.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/popguard/internal/scoring"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the complete popguard configuration.
type Config struct {
	Engine        EngineConfig        `koanf:"engine"`
	Throttle      ThrottleConfig      `koanf:"throttle"`
	Eviction      EvictionConfig      `koanf:"eviction"`
	Store         StoreConfig         `koanf:"store"`
	Server        ServerConfig        `koanf:"server"`
	Notify        NotifyConfig        `koanf:"notify"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// EngineConfig holds learning, scoring and decision settings.
type EngineConfig struct {
	LearningEnabled               bool    `koanf:"learning_enabled"`
	AutoAction                    bool    `koanf:"auto_action"`
	SuggestionConfidenceThreshold float64 `koanf:"suggestion_confidence_threshold"`
	SimilarityThreshold           float64 `koanf:"similarity_threshold"`
	PatternDecayMinConfidence     float64 `koanf:"pattern_decay_min_confidence"`
	PatternMaxAgeDays             int     `koanf:"pattern_max_age_days"`
	PendingDecisionTimeoutMs      int     `koanf:"pending_decision_timeout_ms"`
	NotificationsEnabled          bool    `koanf:"notifications_enabled"`

	Weights         scoring.Weights `koanf:"weights"`
	HighThreshold   float64         `koanf:"high_threshold"`
	MediumThreshold float64         `koanf:"medium_threshold"`

	MaintenanceInterval Duration `koanf:"maintenance_interval"`
	CleanupInterval     Duration `koanf:"cleanup_interval"`
}

// ThrottleConfig holds the per-tab detection budget.
type ThrottleConfig struct {
	MaxDetectionsPerWindow int      `koanf:"max_detections_per_window"`
	WindowMs               int      `koanf:"window_ms"`
	MinLimit               int      `koanf:"min_limit"`
	LatencyBudget          Duration `koanf:"latency_budget"`
	MemoryThresholdMB      int      `koanf:"memory_threshold_mb"`
	ShrinkFactor           float64  `koanf:"shrink_factor"`
	RelaxFactor            float64  `koanf:"relax_factor"`
	HealthyWindows         int      `koanf:"healthy_windows"`
}

// EvictionConfig holds log caps and the staleness window.
type EvictionConfig struct {
	HistoryCap        int      `koanf:"history_cap"`
	DecisionsCap      int      `koanf:"decisions_cap"`
	PendingStaleAfter Duration `koanf:"pending_stale_after"`
	PressureFraction  float64  `koanf:"pressure_fraction"`
}

// StoreConfig selects the persistent store.
type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NotifyConfig configures notification channels.
type NotifyConfig struct {
	Log           bool    `koanf:"log"`
	NATSURL       string  `koanf:"nats_url"`
	NATSToken     Secret  `koanf:"nats_token"`
	SubjectPrefix string  `koanf:"subject_prefix"`
	RatePerSecond float64 `koanf:"rate_per_second"`
	Burst         int     `koanf:"burst"`
}

// ObservabilityConfig holds OpenTelemetry settings.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"`
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// LoggingConfig holds the logger settings read from the config file.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			LearningEnabled:               true,
			SuggestionConfidenceThreshold: 0.8,
			SimilarityThreshold:           0.7,
			PatternDecayMinConfidence:     0.3,
			PatternMaxAgeDays:             30,
			PendingDecisionTimeoutMs:      15000,
			NotificationsEnabled:          true,
			Weights:                       scoring.DefaultWeights(),
			HighThreshold:                 scoring.DefaultThresholds().High,
			MediumThreshold:               scoring.DefaultThresholds().Medium,
			MaintenanceInterval:           Duration(30 * time.Second),
			CleanupInterval:               Duration(time.Hour),
		},
		Throttle: ThrottleConfig{
			MaxDetectionsPerWindow: 30,
			WindowMs:               60000,
			MinLimit:               5,
			LatencyBudget:          Duration(500 * time.Millisecond),
			ShrinkFactor:           0.5,
			RelaxFactor:            1.5,
			HealthyWindows:         3,
		},
		Eviction: EvictionConfig{
			HistoryCap:        1000,
			DecisionsCap:      500,
			PendingStaleAfter: Duration(5 * time.Minute),
			PressureFraction:  0.3,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "~/.local/share/popguard/popguard.db",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9393,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Notify: NotifyConfig{
			Log:           true,
			SubjectPrefix: "popguard.events",
			RatePerSecond: 5,
			Burst:         10,
		},
		Observability: ObservabilityConfig{
			ServiceName: "popguard",
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sampling: true,
		},
	}
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	e := c.Engine
	for name, v := range map[string]float64{
		"engine.suggestion_confidence_threshold": e.SuggestionConfidenceThreshold,
		"engine.similarity_threshold":            e.SimilarityThreshold,
		"engine.pattern_decay_min_confidence":    e.PatternDecayMinConfidence,
		"engine.high_threshold":                  e.HighThreshold,
		"engine.medium_threshold":                e.MediumThreshold,
		"observability.sample_rate":              c.Observability.SampleRate,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be between 0 and 1, got %v", ErrInvalid, name, v)
		}
	}
	if e.MediumThreshold > e.HighThreshold {
		return fmt.Errorf("%w: engine.medium_threshold must not exceed engine.high_threshold", ErrInvalid)
	}
	if e.PatternMaxAgeDays < 1 {
		return fmt.Errorf("%w: engine.pattern_max_age_days must be at least 1", ErrInvalid)
	}
	if e.PendingDecisionTimeoutMs < 1 {
		return fmt.Errorf("%w: engine.pending_decision_timeout_ms must be positive", ErrInvalid)
	}
	if e.MaintenanceInterval <= 0 || e.CleanupInterval <= 0 {
		return fmt.Errorf("%w: engine maintenance intervals must be positive", ErrInvalid)
	}

	t := c.Throttle
	if t.MaxDetectionsPerWindow < 1 || t.WindowMs < 1 {
		return fmt.Errorf("%w: throttle.max_detections_per_window and throttle.window_ms must be positive", ErrInvalid)
	}
	if t.MinLimit < 1 || t.MinLimit > t.MaxDetectionsPerWindow {
		return fmt.Errorf("%w: throttle.min_limit must be in [1, max_detections_per_window]", ErrInvalid)
	}
	if t.MemoryThresholdMB < 0 {
		return fmt.Errorf("%w: throttle.memory_threshold_mb must not be negative", ErrInvalid)
	}

	if c.Eviction.HistoryCap < 1 || c.Eviction.DecisionsCap < 1 {
		return fmt.Errorf("%w: eviction caps must be positive", ErrInvalid)
	}
	if c.Eviction.PressureFraction <= 0 || c.Eviction.PressureFraction > 1 {
		return fmt.Errorf("%w: eviction.pressure_fraction must be in (0,1]", ErrInvalid)
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path is required for the sqlite driver", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown store.driver %q", ErrInvalid, c.Store.Driver)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port: %d (must be 1-65535)", ErrInvalid, c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalid)
	}

	if c.Notify.RatePerSecond < 0 || c.Notify.Burst < 0 {
		return fmt.Errorf("%w: notify rate and burst must not be negative", ErrInvalid)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return fmt.Errorf("%w: service name required when telemetry is enabled", ErrInvalid)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: logging.format must be 'json' or 'console', got %q", ErrInvalid, c.Logging.Format)
	}
	return nil
}
