package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/popguard/internal/decision"
	"github.com/fyrsmithlabs/popguard/internal/extraction"
	"github.com/fyrsmithlabs/popguard/internal/notify"
	"github.com/fyrsmithlabs/popguard/internal/popup"
	"github.com/fyrsmithlabs/popguard/internal/store"
	"github.com/fyrsmithlabs/popguard/internal/throttle"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

func modal() *extraction.Snapshot {
	return &extraction.Snapshot{
		URL:   "https://www.news.example.com/article/7",
		Style: map[string]string{"position": "fixed", "z-index": "10000", "box-shadow": "0 2px 8px #000"},
		Rect:  &extraction.Rect{X: 440, Y: 250, Width: 400, Height: 300},
		View:  &extraction.Size{Width: 1280, Height: 800},
		Attrs: map[string]string{"class": "subscribe-modal", "role": "dialog"},
		Children: []extraction.Node{
			{Tag: "button", Attributes: map[string]string{"aria-label": "Close"}},
			{Tag: "a", Attributes: map[string]string{"href": "https://ads.partner.net/click"}},
			{Tag: "div", Attributes: map[string]string{"class": "ad-banner sponsored"}},
		},
	}
}

func banner() *extraction.Snapshot {
	return &extraction.Snapshot{
		URL:   "https://news.example.com/",
		Style: map[string]string{"position": "static"},
		Rect:  &extraction.Rect{Width: 1280, Height: 40},
		View:  &extraction.Size{Width: 1280, Height: 800},
		Attrs: map[string]string{"class": "site-header"},
	}
}

type harness struct {
	engine *Engine
	store  *store.MemoryStore
	clock  *clock
	notes  *recorder
}

func newHarness(t *testing.T, mutate func(*Config), opts ...Option) *harness {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Learning.SuggestionThreshold = 0.6
	cfg.MaintenanceInterval = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		store: store.NewMemoryStore(),
		clock: &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		notes: &recorder{},
	}
	base := []Option{
		WithStore(h.store),
		WithNotifier(h.notes),
		WithClock(h.clock.Now),
		WithMemorySampler(func() uint64 { return 0 }),
	}
	e, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Close(context.Background()) })

	h.engine = e
	return h
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Decision.Timeout = 0
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.CleanupInterval = -time.Second
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEngine_DetectDecideLearn(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p1", Element: modal()})
	require.NoError(t, err)
	assert.True(t, res.Verdict.Admitted)
	assert.Equal(t, decision.OutcomeAwaitingUser, res.Outcome)
	require.NotNil(t, res.Score)
	assert.True(t, res.Score.Tier.Actionable())
	assert.Nil(t, res.Suggestion)

	pending, err := h.engine.Pending("tab-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "news.example.com", pending[0].Domain)

	r, err := h.engine.Decide(ctx, "tab-1", "p1", popup.DecisionClose)
	require.NoError(t, err)
	assert.Equal(t, popup.DecisionClose, r.Decision)
	assert.False(t, r.AutoResolved)

	require.Len(t, h.engine.History(), 1)
	require.Len(t, h.engine.Decisions(), 1)
	require.Len(t, h.engine.Patterns(), 1)

	// The same popup shape on another page now carries a suggestion.
	res, err = h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p2", Element: modal()})
	require.NoError(t, err)
	assert.Equal(t, decision.OutcomeAutoSuggested, res.Outcome)
	require.NotNil(t, res.Suggestion)
	assert.Equal(t, popup.DecisionClose, res.Suggestion.Decision)
	assert.True(t, res.Suggestion.SameDomain)

	assert.Equal(t,
		[]notify.Kind{notify.KindDetection, notify.KindResolution, notify.KindDetection},
		h.notes.kinds())
}

func TestEngine_LowTierAndDuplicate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "hdr", Element: banner()})
	require.NoError(t, err)
	assert.Equal(t, decision.OutcomeIgnored, res.Outcome)

	_, err = h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p1", Element: modal()})
	require.NoError(t, err)
	res, err = h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p1", Element: modal()})
	require.NoError(t, err)
	assert.Equal(t, decision.OutcomeDuplicate, res.Outcome)

	assert.Len(t, h.notes.kinds(), 1, "ignored and duplicate detections are not announced")
}

func TestEngine_AutoAction(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Decision.AutoAction = true })
	ctx := context.Background()

	_, err := h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p1", Element: modal()})
	require.NoError(t, err)
	_, err = h.engine.Decide(ctx, "tab-1", "p1", popup.DecisionClose)
	require.NoError(t, err)

	res, err := h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p2", Element: modal()})
	require.NoError(t, err)
	assert.Equal(t, decision.OutcomeAutoResolved, res.Outcome)
	require.NotNil(t, res.Record)
	assert.True(t, res.Record.AutoResolved)

	assert.Len(t, h.engine.History(), 2)
	assert.Len(t, h.engine.Decisions(), 1, "auto-resolved records are not user decisions")
	pending, err := h.engine.Pending("tab-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEngine_Throttle(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Throttle.Limit = 2
		c.Throttle.MinLimit = 1
	})
	ctx := context.Background()

	for i := range 2 {
		res, err := h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: fmt.Sprintf("p%d", i), Element: banner()})
		require.NoError(t, err)
		assert.True(t, res.Verdict.Admitted)
	}
	res, err := h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p9", Element: modal()})
	require.NoError(t, err)
	assert.False(t, res.Verdict.Admitted)
	assert.Equal(t, throttle.ReasonExhausted, res.Verdict.Reason)
	assert.Nil(t, res.Score)

	// Tabs are throttled independently.
	res, err = h.engine.HandleDetection(ctx, "tab-2", Detection{PopupID: "p9", Element: modal()})
	require.NoError(t, err)
	assert.True(t, res.Verdict.Admitted)

	require.NoError(t, h.engine.SetVisible("tab-2", false))
	res, err = h.engine.HandleDetection(ctx, "tab-2", Detection{PopupID: "p10", Element: modal()})
	require.NoError(t, err)
	assert.Equal(t, throttle.ReasonHidden, res.Verdict.Reason)

	h.clock.Advance(time.Minute)
	st, err := h.engine.ThrottleState("tab-1")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Limit)
}

func TestEngine_TabErrors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.HandleDetection(ctx, "", Detection{PopupID: "p1", Element: modal()})
	assert.ErrorIs(t, err, ErrEmptyTabID)

	_, err = h.engine.Decide(ctx, "nope", "p1", popup.DecisionClose)
	assert.ErrorIs(t, err, ErrUnknownTab)

	_, err = h.engine.Pending("nope")
	assert.ErrorIs(t, err, ErrUnknownTab)

	_, err = h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p1", Element: modal()})
	require.NoError(t, err)
	_, err = h.engine.Decide(ctx, "tab-1", "p1", popup.DecisionTimeout)
	assert.ErrorIs(t, err, decision.ErrNotUserChoice)
	_, err = h.engine.Decide(ctx, "tab-1", "missing", popup.DecisionKeep)
	assert.ErrorIs(t, err, decision.ErrPendingNotFound)
}

func TestEngine_CloseTab(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p1", Element: modal()})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tab-1"}, h.engine.Tabs())

	require.NoError(t, h.engine.CloseTab(ctx, "tab-1"))
	assert.Empty(t, h.engine.Tabs())
	assert.ErrorIs(t, h.engine.CloseTab(ctx, "tab-1"), ErrUnknownTab)

	history := h.engine.History()
	require.Len(t, history, 1)
	assert.Equal(t, popup.DecisionTimeout, history[0].Decision)
	assert.Empty(t, h.engine.Patterns(), "timeouts teach nothing")
}

func TestEngine_MaintenanceExpiresStale(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Decision.Timeout = time.Hour
		c.Eviction.PendingStaleAfter = time.Minute
	})
	ctx := context.Background()

	_, err := h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p1", Element: modal()})
	require.NoError(t, err)

	report := h.engine.RunMaintenance(ctx)
	assert.Zero(t, report.StaleExpired)

	h.clock.Advance(2 * time.Minute)
	report = h.engine.RunMaintenance(ctx)
	assert.Equal(t, 1, report.StaleExpired)

	pending, err := h.engine.Pending("tab-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
	require.Len(t, h.engine.History(), 1)
	assert.Equal(t, popup.DecisionTimeout, h.engine.History()[0].Decision)
}

func TestEngine_MaintenanceCleansPatterns(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.CleanupInterval = time.Hour })
	ctx := context.Background()

	_, err := h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p1", Element: modal()})
	require.NoError(t, err)
	_, err = h.engine.Decide(ctx, "tab-1", "p1", popup.DecisionClose)
	require.NoError(t, err)
	require.Len(t, h.engine.Patterns(), 1)

	h.clock.Advance(31 * 24 * time.Hour)
	report := h.engine.RunMaintenance(ctx)
	assert.Equal(t, 1, report.PatternsRemoved)
	assert.Empty(t, h.engine.Patterns())
}

func TestEngine_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	shared := store.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.MaintenanceInterval = time.Hour

	first, err := New(cfg, WithStore(shared), WithMemorySampler(func() uint64 { return 0 }))
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))

	prefs := first.Preferences()
	prefs.AutoAction = true
	prefs.SuggestionThreshold = 0.5
	require.NoError(t, first.SetPreferences(ctx, prefs))

	_, err = first.HandleDetection(ctx, "tab-1", Detection{PopupID: "p1", Element: modal()})
	require.NoError(t, err)
	_, err = first.Decide(ctx, "tab-1", "p1", popup.DecisionKeep)
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	second, err := New(cfg, WithStore(shared), WithMemorySampler(func() uint64 { return 0 }))
	require.NoError(t, err)
	require.NoError(t, second.Start(ctx))
	defer second.Close(ctx)

	assert.True(t, second.Preferences().AutoAction)
	assert.InDelta(t, 0.5, second.Preferences().SuggestionThreshold, 1e-9)
	assert.Len(t, second.Patterns(), 1)
	assert.Len(t, second.Decisions(), 1)

	res, err := second.HandleDetection(ctx, "tab-9", Detection{PopupID: "p3", Element: modal()})
	require.NoError(t, err)
	assert.Equal(t, decision.OutcomeAutoResolved, res.Outcome)
	assert.Equal(t, popup.DecisionKeep, res.Record.Decision)
}

func TestEngine_RecoversOrphanedPending(t *testing.T) {
	ctx := context.Background()
	shared := store.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.MaintenanceInterval = time.Hour

	// A coordinator that never shuts down leaves its mirror behind.
	coord := decision.NewCoordinator("tab-1", decision.Config{Timeout: time.Hour},
		decision.WithPersistence(shared))
	res, err := coord.Detect(ctx, decision.Candidate{
		PopupID: "orphan",
		URL:     "https://example.com/",
		Domain:  "example.com",
		Score:   newHighScore(),
	})
	require.NoError(t, err)
	require.Equal(t, decision.OutcomeAwaitingUser, res.Outcome)

	e, err := New(cfg, WithStore(shared), WithMemorySampler(func() uint64 { return 0 }))
	require.NoError(t, err)
	require.NoError(t, e.Start(ctx))
	defer e.Close(ctx)

	history := e.History()
	require.Len(t, history, 1)
	assert.Equal(t, "orphan", history[0].PopupID)
	assert.Equal(t, popup.DecisionTimeout, history[0].Decision)

	raw, err := shared.Get(ctx, store.NamespacePendingDecision)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestEngine_Preferences(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	p := h.engine.Preferences()
	assert.True(t, p.LearningEnabled)
	assert.Equal(t, 30, p.MaxAgeDays)

	bad := p
	bad.SimilarityThreshold = 1.5
	assert.ErrorIs(t, h.engine.SetPreferences(ctx, bad), ErrInvalidPreferences)

	p.LearningEnabled = false
	p.Notifications = false
	require.NoError(t, h.engine.SetPreferences(ctx, p))

	_, err := h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p1", Element: modal()})
	require.NoError(t, err)
	_, err = h.engine.Decide(ctx, "tab-1", "p1", popup.DecisionClose)
	require.NoError(t, err)

	assert.Empty(t, h.engine.Patterns(), "learning disabled")
	assert.Empty(t, h.notes.kinds(), "notifications disabled")

	var stored Preferences
	found, err := store.GetJSON(ctx, h.store, store.NamespacePreferences, preferencesKey, &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, p, stored)
}

func TestEngine_ExtractionFailureFallsBack(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := newHarness(t, nil, WithLogger(zap.New(core)))

	res, err := h.engine.HandleDetection(context.Background(), "tab-1",
		Detection{PopupID: "p1", Element: &extraction.Snapshot{URL: "https://example.com/"}})
	require.NoError(t, err)
	require.NotNil(t, res.Characteristics)
	assert.True(t, res.Characteristics.IsDefault())
	assert.Equal(t, decision.OutcomeIgnored, res.Outcome)
	assert.Equal(t, 1, logs.FilterMessage("feature extraction failed, using defaults").Len())
}

// panickingPage is a live element whose page URL lookup blows up.
type panickingPage struct {
	*extraction.Snapshot
}

func (panickingPage) PageURL() string { panic("document detached") }

func TestEngine_AccessorPanicsAreContained(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		el   extraction.ElementAccessor
	}{
		{"typed nil snapshot", (*extraction.Snapshot)(nil)},
		{"panicking page url", panickingPage{modal()}},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				res Result
				err error
			)
			require.NotPanics(t, func() {
				res, err = h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: fmt.Sprintf("p%d", i), Element: tt.el})
			})
			require.NoError(t, err)
			require.NotNil(t, res.Characteristics)
			assert.True(t, res.Characteristics.IsDefault())
			assert.Equal(t, decision.OutcomeIgnored, res.Outcome)
		})
	}
}

func TestEngine_EmptyPopupIDKeepsBudget(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Throttle.Limit = 1
		c.Throttle.MinLimit = 1
	})
	ctx := context.Background()

	for range 3 {
		_, err := h.engine.HandleDetection(ctx, "tab-1", Detection{Element: modal()})
		assert.ErrorIs(t, err, popup.ErrEmptyPopupID)
	}
	res, err := h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p1", Element: modal()})
	require.NoError(t, err)
	assert.True(t, res.Verdict.Admitted)
}

func TestEngine_Closed(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p1", Element: modal()})
	require.NoError(t, err)
	require.NoError(t, h.engine.Close(ctx))
	require.NoError(t, h.engine.Close(ctx))

	_, err = h.engine.HandleDetection(ctx, "tab-1", Detection{PopupID: "p2", Element: modal()})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.engine.Start(ctx), ErrClosed)

	history := h.engine.History()
	require.Len(t, history, 1)
	assert.Equal(t, popup.DecisionTimeout, history[0].Decision)
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "example.com", domainOf("https://www.Example.com/a?b=c"))
	assert.Equal(t, "shop.example.com", domainOf("http://shop.example.com:8080/"))
	assert.Equal(t, "", domainOf("::not a url"))
}
