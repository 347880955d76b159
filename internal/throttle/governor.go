// Package throttle gates the detection pipeline with a per-tab rolling window
// limiter.
//
// Hidden tabs are fully suspended. Rejected attempts are dropped, never
// queued. The limit adapts: a window whose mean pipeline latency exceeds the
// budget, or a memory sample above the threshold, shrinks it; a run of
// healthy windows relaxes it back toward the configured maximum.
package throttle

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults.
const (
	DefaultLimit          = 30
	DefaultWindow         = 60 * time.Second
	DefaultMinLimit       = 5
	DefaultLatencyBudget  = 500 * time.Millisecond
	DefaultShrinkFactor   = 0.5
	DefaultRelaxFactor    = 1.5
	DefaultHealthyWindows = 3
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid throttle config")

// Config configures a Governor.
type Config struct {
	// Limit is the initial number of detections admitted per window.
	Limit  int
	Window time.Duration

	// MinLimit and MaxLimit bound adaptive tuning. MaxLimit 0 means Limit.
	MinLimit int
	MaxLimit int

	// LatencyBudget is the mean pipeline latency above which a window is
	// unhealthy.
	LatencyBudget time.Duration

	// MemoryThreshold in bytes; 0 disables memory-driven shrinking.
	MemoryThreshold uint64

	ShrinkFactor   float64
	RelaxFactor    float64
	HealthyWindows int
}

// DefaultConfig returns 30 detections per minute with adaptive tuning.
func DefaultConfig() Config {
	return Config{
		Limit:          DefaultLimit,
		Window:         DefaultWindow,
		MinLimit:       DefaultMinLimit,
		LatencyBudget:  DefaultLatencyBudget,
		ShrinkFactor:   DefaultShrinkFactor,
		RelaxFactor:    DefaultRelaxFactor,
		HealthyWindows: DefaultHealthyWindows,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Limit <= 0:
		return fmt.Errorf("%w: limit must be positive", ErrInvalidConfig)
	case c.Window <= 0:
		return fmt.Errorf("%w: window must be positive", ErrInvalidConfig)
	case c.MinLimit < 0 || c.MinLimit > c.Limit:
		return fmt.Errorf("%w: min limit must be between 0 and limit", ErrInvalidConfig)
	case c.MaxLimit != 0 && c.MaxLimit < c.Limit:
		return fmt.Errorf("%w: max limit must not be below limit", ErrInvalidConfig)
	case c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1:
		return fmt.Errorf("%w: shrink factor must be in (0,1)", ErrInvalidConfig)
	case c.RelaxFactor <= 1:
		return fmt.Errorf("%w: relax factor must be above 1", ErrInvalidConfig)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.MaxLimit == 0 {
		c.MaxLimit = c.Limit
	}
	if c.MinLimit < 1 {
		c.MinLimit = 1
	}
	if c.HealthyWindows < 1 {
		c.HealthyWindows = DefaultHealthyWindows
	}
	return c
}

// Reason explains a Verdict.
type Reason string

const (
	ReasonAdmitted  Reason = "admitted"
	ReasonHidden    Reason = "hidden"
	ReasonExhausted Reason = "window_exhausted"
)

// Verdict is the outcome of one detection attempt.
type Verdict struct {
	Admitted bool   `json:"admitted"`
	Reason   Reason `json:"reason"`
}

// State is a snapshot of the governor.
type State struct {
	WindowStart   time.Time `json:"window_start"`
	CountInWindow int       `json:"count_in_window"`
	Limit         int       `json:"limit"`
	Suspended     bool      `json:"suspended"`
	Rejected      int64     `json:"rejected"`
}

// Governor is a rolling window limiter for one tab. Safe for concurrent use.
type Governor struct {
	mu  sync.Mutex
	cfg Config

	windowStart time.Time
	count       int
	limit       int
	suspended   bool
	rejected    int64

	latencySum     time.Duration
	latencySamples int
	memoryShrunk   bool
	healthyStreak  int

	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Governor) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGovernor creates a visible, idle governor.
func NewGovernor(cfg Config, opts ...Option) (*Governor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Governor{
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("throttle")
	g.limit = g.cfg.Limit
	g.windowStart = g.now()
	return g, nil
}

// Allow decides whether one detection may run. Hidden tabs are rejected
// without consuming budget.
func (g *Governor) Allow() Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.suspended {
		g.rejected++
		recordVerdict(ReasonHidden)
		return Verdict{Reason: ReasonHidden}
	}

	g.rollLocked(g.now())
	if g.count >= g.limit {
		g.rejected++
		recordVerdict(ReasonExhausted)
		return Verdict{Reason: ReasonExhausted}
	}
	g.count++
	recordVerdict(ReasonAdmitted)
	return Verdict{Admitted: true, Reason: ReasonAdmitted}
}

// SetVisible records a visibility change. Becoming visible starts a fresh
// window.
func (g *Governor) SetVisible(visible bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	wasSuspended := g.suspended
	g.suspended = !visible
	if visible && wasSuspended {
		g.resetWindowLocked(g.now())
	}
}

// ObserveLatency records the duration of one pipeline run.
func (g *Governor) ObserveLatency(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latencySum += d
	g.latencySamples++
}

// ObserveMemory records a memory sample in bytes. A sample above the
// threshold shrinks the limit at once, at most once per window.
func (g *Governor) ObserveMemory(bytes uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfg.MemoryThreshold == 0 || bytes <= g.cfg.MemoryThreshold || g.memoryShrunk {
		return
	}
	g.memoryShrunk = true
	g.healthyStreak = 0
	g.shrinkLocked("memory")
}

// State returns a snapshot, rolling the window first if it has elapsed.
func (g *Governor) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.suspended {
		g.rollLocked(g.now())
	}
	return State{
		WindowStart:   g.windowStart,
		CountInWindow: g.count,
		Limit:         g.limit,
		Suspended:     g.suspended,
		Rejected:      g.rejected,
	}
}

// rollLocked closes the current window if it has elapsed and evaluates its
// health. Caller must hold lock.
func (g *Governor) rollLocked(now time.Time) {
	if now.Sub(g.windowStart) < g.cfg.Window {
		return
	}

	switch {
	case g.latencySamples > 0 && g.latencySum/time.Duration(g.latencySamples) > g.cfg.LatencyBudget:
		g.healthyStreak = 0
		g.shrinkLocked("latency")
	case g.memoryShrunk:
		g.healthyStreak = 0
	default:
		g.healthyStreak++
		if g.healthyStreak >= g.cfg.HealthyWindows {
			g.healthyStreak = 0
			g.relaxLocked()
		}
	}
	g.resetWindowLocked(now)
}

func (g *Governor) resetWindowLocked(now time.Time) {
	g.windowStart = now
	g.count = 0
	g.latencySum = 0
	g.latencySamples = 0
	g.memoryShrunk = false
}

func (g *Governor) shrinkLocked(cause string) {
	next := int(float64(g.limit) * g.cfg.ShrinkFactor)
	if next < g.cfg.MinLimit {
		next = g.cfg.MinLimit
	}
	if next == g.limit {
		return
	}
	g.logger.Info("throttle limit reduced",
		zap.String("cause", cause),
		zap.Int("from", g.limit),
		zap.Int("to", next))
	g.limit = next
	recordAdjustment("shrink", cause)
}

func (g *Governor) relaxLocked() {
	next := int(math.Ceil(float64(g.limit) * g.cfg.RelaxFactor))
	if next > g.cfg.MaxLimit {
		next = g.cfg.MaxLimit
	}
	if next == g.limit {
		return
	}
	g.logger.Debug("throttle limit relaxed", zap.Int("from", g.limit), zap.Int("to", next))
	g.limit = next
	recordAdjustment("relax", "healthy")
}
