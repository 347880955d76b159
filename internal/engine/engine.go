// Package engine composes the popguard pipeline.
//
// An Engine owns the components shared across tabs (extractor, scorer,
// pattern store, history cache, persistent store, notifier) and one Session
// per tab holding that tab's throttle governor and decision coordinator.
// Nothing is global: several engines can run side by side, which is how the
// tests use it.
//
// The pipeline for one detection is
//
//	governor.Allow -> Extract -> Score -> coordinator.Detect -> notify
//
// and a resolution flows back through the coordinator into history and the
// pattern store.
package engine

import (
	"context"
	"errors"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/decision"
	"github.com/fyrsmithlabs/popguard/internal/eviction"
	"github.com/fyrsmithlabs/popguard/internal/extraction"
	"github.com/fyrsmithlabs/popguard/internal/learning"
	"github.com/fyrsmithlabs/popguard/internal/notify"
	"github.com/fyrsmithlabs/popguard/internal/popup"
	"github.com/fyrsmithlabs/popguard/internal/scoring"
	"github.com/fyrsmithlabs/popguard/internal/store"
	"github.com/fyrsmithlabs/popguard/internal/throttle"
)

// Engine errors.
var (
	ErrClosed             = errors.New("engine is closed")
	ErrEmptyTabID         = errors.New("tab ID cannot be empty")
	ErrUnknownTab         = errors.New("unknown tab")
	ErrInvalidPreferences = errors.New("invalid preferences")
)

// Detection is one candidate element reported by a tab.
type Detection struct {
	PopupID string
	Element extraction.ElementAccessor
}

// Result reports what the pipeline did with a detection.
type Result struct {
	Verdict         throttle.Verdict       `json:"verdict"`
	Characteristics *popup.Characteristics `json:"characteristics,omitempty"`
	Score           *scoring.Result        `json:"score,omitempty"`
	Outcome         decision.Outcome       `json:"outcome,omitempty"`
	Suggestion      *learning.Suggestion   `json:"suggestion,omitempty"`
	Record          *popup.Record          `json:"record,omitempty"`
}

// Engine is the popguard decision engine. Safe for concurrent use.
type Engine struct {
	cfg Config

	extractor *extraction.Extractor
	scorer    *scoring.Scorer
	patterns  *learning.Store
	cache     *eviction.Cache
	persist   store.Store
	notifier  notify.Channel
	channel   decision.UserDecisionChannel

	decisionMetrics *decision.Metrics
	logger          *zap.Logger
	now             func() time.Time
	sampleMemory    func() uint64

	mu          sync.Mutex
	sessions    map[string]*Session
	prefs       Preferences
	started     bool
	closed      bool
	lastCleanup time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	store        store.Store
	notifier     notify.Channel
	channel      decision.UserDecisionChannel
	logger       *zap.Logger
	meter        metric.Meter
	now          func() time.Time
	sampleMemory func() uint64
}

// WithStore sets the persistent store. It is wrapped so that failures are
// logged and never reach engine callers. Defaults to an in-memory store.
func WithStore(s store.Store) Option { return func(o *engineOptions) { o.store = s } }

// WithNotifier sets the notification channel.
func WithNotifier(n notify.Channel) Option { return func(o *engineOptions) { o.notifier = n } }

// WithChannel sets the user decision channel.
func WithChannel(ch decision.UserDecisionChannel) Option {
	return func(o *engineOptions) { o.channel = ch }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *engineOptions) { o.logger = l } }

// WithMeter sets the OTEL meter for learning and decision metrics.
func WithMeter(m metric.Meter) Option { return func(o *engineOptions) { o.meter = m } }

// WithClock overrides time.Now for timestamps and maintenance.
func WithClock(now func() time.Time) Option { return func(o *engineOptions) { o.now = now } }

// WithMemorySampler overrides the heap sampler used for adaptive throttling.
func WithMemorySampler(f func() uint64) Option {
	return func(o *engineOptions) { o.sampleMemory = f }
}

// New builds an engine. Call Start before use and Close when done.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := engineOptions{
		logger:       zap.NewNop(),
		notifier:     notify.Nop{},
		now:          time.Now,
		sampleMemory: heapAlloc,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = store.NewMemoryStore()
	}
	persist := store.NewResilient(o.store, o.logger)

	learnMetrics, err := learning.NewMetrics(o.meter)
	if err != nil {
		return nil, err
	}
	decisionMetrics, err := decision.NewMetrics(o.meter)
	if err != nil {
		return nil, err
	}

	cache, err := eviction.NewCache(cfg.Eviction,
		eviction.WithPersistence(persist),
		eviction.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		extractor: extraction.NewExtractor(extraction.WithLogger(o.logger)),
		scorer:    scoring.NewScorer(cfg.Weights, cfg.Thresholds),
		patterns: learning.NewStore(cfg.Learning,
			learning.WithPersistence(persist),
			learning.WithMetrics(learnMetrics),
			learning.WithLogger(o.logger),
			learning.WithClock(o.now)),
		cache:           cache,
		persist:         persist,
		notifier:        o.notifier,
		channel:         o.channel,
		decisionMetrics: decisionMetrics,
		logger:          o.logger.Named("engine"),
		now:             o.now,
		sampleMemory:    o.sampleMemory,
		sessions:        make(map[string]*Session),
		prefs:           PreferencesFrom(cfg),
		stop:            make(chan struct{}),
	}
	return e, nil
}

// Start loads persisted state, settles pending decisions orphaned by a
// previous process and starts the maintenance loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.lastCleanup = e.now()
	e.mu.Unlock()

	e.loadPreferences(ctx)
	if err := e.patterns.Load(ctx); err != nil {
		e.logger.Warn("failed to load patterns", zap.Error(err))
	}
	if err := e.cache.Load(ctx); err != nil {
		e.logger.Warn("failed to load history", zap.Error(err))
	}
	orphans, err := decision.RecoverOrphans(ctx, e.persist, e.cache, e.now())
	if err != nil {
		e.logger.Warn("failed to recover pending decisions", zap.Error(err))
	}
	if orphans > 0 {
		e.logger.Info("settled orphaned pending decisions", zap.Int("count", orphans))
	}

	e.wg.Add(1)
	go e.maintenanceLoop()

	e.logger.Info("engine started",
		zap.Int("patterns", e.patterns.Len()),
		zap.Int("history", len(e.cache.History())))
	return nil
}

// HandleDetection runs one candidate through the pipeline for tabID.
// A throttled detection returns a Result whose verdict is not admitted and
// a nil error.
func (e *Engine) HandleDetection(ctx context.Context, tabID string, det Detection) (Result, error) {
	if det.PopupID == "" {
		return Result{}, popup.ErrEmptyPopupID
	}
	s, err := e.session(tabID, true)
	if err != nil {
		return Result{}, err
	}

	verdict := s.governor.Allow()
	if !verdict.Admitted {
		return Result{Verdict: verdict}, nil
	}

	start := time.Now()
	chars := e.extractor.Extract(det.Element)
	score := e.scorer.Score(chars)

	pageURL := e.extractor.PageURL(det.Element)
	dr, err := s.coord.Detect(ctx, decision.Candidate{
		PopupID:         det.PopupID,
		URL:             pageURL,
		Domain:          domainOf(pageURL),
		Characteristics: chars,
		Score:           score,
	})
	s.governor.ObserveLatency(time.Since(start))
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Verdict:         verdict,
		Characteristics: &chars,
		Score:           &score,
		Outcome:         dr.Outcome,
		Suggestion:      dr.Suggestion,
		Record:          dr.Record,
	}
	if dr.Outcome != decision.OutcomeDuplicate && dr.Outcome != decision.OutcomeIgnored {
		e.notify(ctx, tabID, det.PopupID, res)
	}
	return res, nil
}

// Decide forwards a user decision for popupID on tabID.
func (e *Engine) Decide(ctx context.Context, tabID, popupID string, d popup.Decision) (*popup.Record, error) {
	s, err := e.session(tabID, false)
	if err != nil {
		return nil, err
	}
	r, err := s.coord.Resolve(ctx, popupID, d)
	if err != nil {
		return nil, err
	}
	if e.Preferences().Notifications {
		e.notifier.Notify(ctx, notify.Notification{
			Kind:      notify.KindResolution,
			TabID:     tabID,
			PopupID:   popupID,
			Domain:    r.Domain,
			Decision:  string(r.Decision),
			Timestamp: r.Timestamp,
		})
	}
	return r, nil
}

// SetVisible records a visibility change for tabID.
func (e *Engine) SetVisible(tabID string, visible bool) error {
	s, err := e.session(tabID, true)
	if err != nil {
		return err
	}
	s.governor.SetVisible(visible)
	return nil
}

// ReportMemoryPressure evicts a share of the oldest history entries.
func (e *Engine) ReportMemoryPressure(ctx context.Context) int {
	return e.cache.ReportMemoryPressure(ctx)
}

// Pending returns the open pending decisions of tabID.
func (e *Engine) Pending(tabID string) ([]decision.Pending, error) {
	s, err := e.session(tabID, false)
	if err != nil {
		return nil, err
	}
	return s.coord.Pending(), nil
}

// ThrottleState returns the governor state of tabID.
func (e *Engine) ThrottleState(tabID string) (throttle.State, error) {
	s, err := e.session(tabID, false)
	if err != nil {
		return throttle.State{}, err
	}
	return s.governor.State(), nil
}

// Patterns returns the learned patterns.
func (e *Engine) Patterns() []popup.Pattern { return e.patterns.Patterns() }

// CleanupPatterns runs pattern cleanup now and returns how many were removed.
func (e *Engine) CleanupPatterns(ctx context.Context) int { return e.patterns.Cleanup(ctx) }

// History returns the popup history, oldest first.
func (e *Engine) History() []popup.Record { return e.cache.History() }

// Decisions returns the user decision log, oldest first.
func (e *Engine) Decisions() []popup.DecisionEntry { return e.cache.Decisions() }

// Tabs returns the IDs of tabs with a session.
func (e *Engine) Tabs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	return ids
}

// CloseTab tears down the session of tabID, settling its pending decisions
// as timeouts.
func (e *Engine) CloseTab(ctx context.Context, tabID string) error {
	e.mu.Lock()
	s, ok := e.sessions[tabID]
	delete(e.sessions, tabID)
	e.mu.Unlock()
	if !ok {
		return ErrUnknownTab
	}
	return s.coord.Shutdown(ctx)
}

// Close stops maintenance, settles every pending decision and flushes
// history. The persistent store is left open for the caller to close.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	sessions := e.sessionsLocked()
	e.sessions = make(map[string]*Session)
	started := e.started
	e.mu.Unlock()

	if started {
		close(e.stop)
		e.wg.Wait()
	}
	for _, s := range sessions {
		_ = s.coord.Shutdown(ctx)
	}
	if err := e.cache.Flush(ctx); err != nil {
		e.logger.Warn("failed to flush history", zap.Error(err))
	}
	e.logger.Info("engine closed")
	return nil
}

func (e *Engine) notify(ctx context.Context, tabID, popupID string, res Result) {
	if !e.Preferences().Notifications {
		return
	}
	n := notify.Notification{
		Kind:      notify.KindDetection,
		TabID:     tabID,
		PopupID:   popupID,
		Tier:      string(res.Score.Tier),
		Score:     res.Score.Value,
		Outcome:   string(res.Outcome),
		Timestamp: e.now(),
	}
	if res.Suggestion != nil {
		n.Suggested = string(res.Suggestion.Decision)
	}
	if res.Record != nil {
		n.Domain = res.Record.Domain
		n.Decision = string(res.Record.Decision)
	}
	e.notifier.Notify(ctx, n)
}

// domainOf returns the host of rawURL without a www. prefix.
func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
