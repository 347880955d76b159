package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/popup"
	"github.com/fyrsmithlabs/popguard/internal/scoring"
	"github.com/fyrsmithlabs/popguard/internal/store"
)

// DefaultTimeout is how long a pending decision waits for the user.
const DefaultTimeout = 15 * time.Second

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds how long a candidate waits for a user decision.
	Timeout time.Duration

	// AutoAction lets high-tier candidates with a suggestion settle without
	// asking. Off by default: suggestions only annotate the presentation.
	AutoAction bool
}

// DefaultConfig returns a 15s timeout with auto-action disabled.
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout}
}

// entry is one open pending decision. It owns its timer.
type entry struct {
	Pending
	timer *time.Timer

	// mirrored is closed once the entry's persistence write has finished.
	// Settling waits on it so the removal always follows the write.
	mirrored chan struct{}
}

// Coordinator runs the pending decision state machine for one tab.
// Safe for concurrent use.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*entry
	closed  bool

	tabID string
	cfg   Config

	suggester Suggester
	learner   Learner
	history   HistorySink
	channel   UserDecisionChannel
	persist   store.Store

	metrics *Metrics
	logger  *Logger
	now     func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSuggester sets the pattern lookup.
func WithSuggester(s Suggester) Option { return func(c *Coordinator) { c.suggester = s } }

// WithLearner sets where settled records are learned from.
func WithLearner(l Learner) Option { return func(c *Coordinator) { c.learner = l } }

// WithHistory sets where settled records are stored.
func WithHistory(h HistorySink) Option { return func(c *Coordinator) { c.history = h } }

// WithChannel sets the user decision channel.
func WithChannel(ch UserDecisionChannel) Option { return func(c *Coordinator) { c.channel = ch } }

// WithPersistence mirrors open pending decisions into s so that a restarted
// process can settle them.
func WithPersistence(s store.Store) Option { return func(c *Coordinator) { c.persist = s } }

// WithMetrics sets the OTEL metrics.
func WithMetrics(m *Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = NewLogger(l) }
}

// WithClock overrides time.Now for timestamps. Timers still run on the
// real clock.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// NewCoordinator creates a coordinator for tabID.
func NewCoordinator(tabID string, cfg Config, opts ...Option) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Coordinator{
		pending: make(map[string]*entry),
		tabID:   tabID,
		cfg:     cfg,
		logger:  NewLogger(nil),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAutoAction toggles auto-action at runtime.
func (c *Coordinator) SetAutoAction(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.AutoAction = enabled
}

// Detect handles a scored candidate.
//
// A candidate whose popup id already has an open pending decision is a
// duplicate and changes nothing. Low-tier candidates are ignored. Otherwise
// the candidate is either auto-resolved (AutoAction, high tier, suggestion
// available) or becomes a pending decision presented to the user.
func (c *Coordinator) Detect(ctx context.Context, cand Candidate) (DetectResult, error) {
	ctx, span := StartSpan(ctx, "decision.detect", c.tabID, cand.PopupID)
	defer span.End()

	if cand.PopupID == "" {
		setSpanError(span, popup.ErrEmptyPopupID)
		return DetectResult{}, popup.ErrEmptyPopupID
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		setSpanError(span, ErrShutdown)
		return DetectResult{}, ErrShutdown
	}
	if _, exists := c.pending[cand.PopupID]; exists {
		c.mu.Unlock()
		c.metrics.recordDetected(ctx, OutcomeDuplicate)
		span.SetAttributes(attribute.String("popguard.outcome", string(OutcomeDuplicate)))
		return DetectResult{Outcome: OutcomeDuplicate}, nil
	}
	if !cand.Score.Tier.Actionable() {
		c.mu.Unlock()
		c.metrics.recordDetected(ctx, OutcomeIgnored)
		span.SetAttributes(attribute.String("popguard.outcome", string(OutcomeIgnored)))
		return DetectResult{Outcome: OutcomeIgnored}, nil
	}

	// The lock is held across the lookup so a concurrent detection of the
	// same popup id sees this entry.
	e := &entry{Pending: Pending{
		PopupID:         cand.PopupID,
		TabID:           c.tabID,
		URL:             cand.URL,
		Domain:          cand.Domain,
		Characteristics: cand.Characteristics,
		Score:           cand.Score,
		State:           StateDetected,
		CreatedAt:       c.now(),
	}, mirrored: make(chan struct{})}
	if c.suggester != nil {
		e.Suggestion = c.suggester.Suggest(ctx, cand.Characteristics, cand.Domain)
	}

	if c.cfg.AutoAction && cand.Score.Tier == scoring.TierHigh && e.Suggestion != nil {
		c.mu.Unlock()
		return c.autoResolve(ctx, e), nil
	}

	next := StateAwaitingUser
	outcome := OutcomeAwaitingUser
	if e.Suggestion != nil {
		next = StateAutoSuggested
		outcome = OutcomeAutoSuggested
	}
	if err := transition(&e.Pending, next); err != nil {
		c.mu.Unlock()
		return DetectResult{}, err
	}
	e.ExpiresAt = e.CreatedAt.Add(c.cfg.Timeout)
	e.timer = time.AfterFunc(c.cfg.Timeout, func() {
		c.expire(context.Background(), e)
	})
	c.pending[e.PopupID] = e
	view := e.Pending
	c.mu.Unlock()

	c.metrics.recordDetected(ctx, outcome)
	span.SetAttributes(attribute.String("popguard.outcome", string(outcome)))
	c.logger.Detected(ctx, view)
	c.mirror(ctx, e, view)

	if c.channel != nil {
		if err := c.channel.Present(ctx, view); err != nil {
			// The timer still settles the entry.
			c.logger.Failure(ctx, c.tabID, view.PopupID, "present", err)
		}
	}
	return DetectResult{Outcome: outcome, Suggestion: view.Suggestion}, nil
}

func (c *Coordinator) autoResolve(ctx context.Context, e *entry) DetectResult {
	_ = transition(&e.Pending, StateResolved)
	r := c.record(&e.Pending, e.Suggestion.Decision)
	r.AutoResolved = true

	if c.history != nil {
		c.history.Append(ctx, *r)
	}
	c.metrics.recordDetected(ctx, OutcomeAutoResolved)
	c.metrics.recordSettled(ctx, string(r.Decision), false, 0)
	c.logger.AutoResolved(ctx, r, e.Suggestion.PatternID)
	return DetectResult{Outcome: OutcomeAutoResolved, Suggestion: e.Suggestion, Record: r}
}

// Resolve settles popupID with a user decision. It returns
// ErrPendingNotFound when there is no open pending decision, including when
// it was already settled by the timer.
func (c *Coordinator) Resolve(ctx context.Context, popupID string, d popup.Decision) (*popup.Record, error) {
	ctx, span := StartSpan(ctx, "decision.resolve", c.tabID, popupID)
	defer span.End()

	if !d.UserChoice() {
		err := fmt.Errorf("%w: %q", ErrNotUserChoice, d)
		setSpanError(span, err)
		return nil, err
	}

	c.mu.Lock()
	e, ok := c.pending[popupID]
	if !ok {
		c.mu.Unlock()
		setSpanError(span, ErrPendingNotFound)
		return nil, ErrPendingNotFound
	}
	delete(c.pending, popupID)
	e.timer.Stop()
	_ = transition(&e.Pending, StateResolved)
	c.mu.Unlock()

	span.SetAttributes(attribute.String("popguard.decision", string(d)))
	return c.settle(ctx, e, d), nil
}

// expire is the timer callback. It is a no-op if e was already settled.
func (c *Coordinator) expire(ctx context.Context, e *entry) {
	c.mu.Lock()
	if c.pending[e.PopupID] != e {
		c.mu.Unlock()
		return
	}
	delete(c.pending, e.PopupID)
	_ = transition(&e.Pending, StateExpired)
	c.mu.Unlock()

	ctx, span := StartSpan(ctx, "decision.expire", c.tabID, e.PopupID)
	defer span.End()
	c.settle(ctx, e, popup.DecisionTimeout)
}

// ForceExpire settles popupID as a timeout without waiting for its timer.
// It returns false when there is no open pending decision.
func (c *Coordinator) ForceExpire(ctx context.Context, popupID string) bool {
	c.mu.Lock()
	e, ok := c.pending[popupID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, popupID)
	e.timer.Stop()
	_ = transition(&e.Pending, StateExpired)
	c.mu.Unlock()

	ctx, span := StartSpan(ctx, "decision.expire", c.tabID, popupID)
	defer span.End()
	span.SetAttributes(attribute.Bool("popguard.forced", true))
	c.settle(ctx, e, popup.DecisionTimeout)
	return true
}

// settle runs the side effects of a terminal transition. e is no longer in
// the pending table.
func (c *Coordinator) settle(ctx context.Context, e *entry, d popup.Decision) *popup.Record {
	r := c.record(&e.Pending, d)
	waited := r.Timestamp.Sub(e.CreatedAt)

	if c.history != nil {
		c.history.Append(ctx, *r)
	}
	if c.learner != nil {
		if _, err := c.learner.Learn(ctx, r); err != nil {
			c.logger.Failure(ctx, c.tabID, e.PopupID, "learn", err)
		}
	}
	if w, ok := c.channel.(Withdrawer); ok {
		w.Withdraw(ctx, c.tabID, e.PopupID)
	}
	if e.mirrored != nil {
		<-e.mirrored
	}
	c.unmirror(ctx, e.PopupID)

	c.metrics.recordSettled(ctx, string(d), true, waited)
	c.logger.Settled(ctx, r, e.State, waited)
	return r
}

func (c *Coordinator) record(p *Pending, d popup.Decision) *popup.Record {
	r := popup.NewRecord(p.PopupID, p.URL, p.Domain, p.Characteristics, d, p.Score.Value, c.now())
	r.TabID = p.TabID
	return r
}

// PendingSince returns the creation time of each open pending decision.
func (c *Coordinator) PendingSince() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Time, len(c.pending))
	for id, e := range c.pending {
		out[id] = e.CreatedAt
	}
	return out
}

// Pending returns the open pending decisions.
func (c *Coordinator) Pending() []Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Pending, 0, len(c.pending))
	for _, e := range c.pending {
		out = append(out, e.Pending)
	}
	return out
}

// Len returns the number of open pending decisions.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Shutdown stops every timer and settles every open pending decision as a
// timeout. Later calls to Detect return ErrShutdown. Idempotent.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	open := make([]*entry, 0, len(c.pending))
	for id, e := range c.pending {
		e.timer.Stop()
		_ = transition(&e.Pending, StateExpired)
		open = append(open, e)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, e := range open {
		c.settle(ctx, e, popup.DecisionTimeout)
	}
	return nil
}

func transition(p *Pending, to State) error {
	if !p.State.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.State, to)
	}
	p.State = to
	return nil
}
