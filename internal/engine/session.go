package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/decision"
	"github.com/fyrsmithlabs/popguard/internal/throttle"
)

// Session is the per-tab state: the tab's throttle governor and decision
// coordinator.
type Session struct {
	TabID     string
	CreatedAt time.Time

	governor *throttle.Governor
	coord    *decision.Coordinator
}

// session returns the session of tabID, creating it when create is set.
func (e *Engine) session(tabID string, create bool) (*Session, error) {
	if tabID == "" {
		return nil, ErrEmptyTabID
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if s, ok := e.sessions[tabID]; ok {
		return s, nil
	}
	if !create {
		return nil, ErrUnknownTab
	}

	logger := e.logger.With(zap.String("tab_id", tabID))
	gov, err := throttle.NewGovernor(e.cfg.Throttle,
		throttle.WithClock(e.now),
		throttle.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	dcfg := e.cfg.Decision
	dcfg.AutoAction = e.prefs.AutoAction
	coord := decision.NewCoordinator(tabID, dcfg,
		decision.WithSuggester(e.patterns),
		decision.WithLearner(e.patterns),
		decision.WithHistory(e.cache),
		decision.WithChannel(e.channel),
		decision.WithPersistence(e.persist),
		decision.WithMetrics(e.decisionMetrics),
		decision.WithLogger(logger),
		decision.WithClock(e.now))

	s := &Session{TabID: tabID, CreatedAt: e.now(), governor: gov, coord: coord}
	e.sessions[tabID] = s
	return s, nil
}

// sessionsLocked returns a snapshot of the sessions. Caller must hold e.mu.
func (e *Engine) sessionsLocked() []*Session {
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}
