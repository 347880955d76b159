package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/popup"
	"github.com/fyrsmithlabs/popguard/internal/store"
)

// Action is what Learn did with a record.
type Action string

const (
	ActionCreated    Action = "created"
	ActionReinforced Action = "reinforced"
	ActionDecayed    Action = "decayed"
	ActionSkipped    Action = "skipped"
)

// Suggestion is a learned decision offered for a new candidate.
type Suggestion struct {
	PatternID  string         `json:"pattern_id"`
	Decision   popup.Decision `json:"decision"`
	Confidence float64        `json:"confidence"`
	Similarity float64        `json:"similarity"`

	// SameDomain is true when the pattern was learned on the queried domain.
	SameDomain bool `json:"same_domain"`
}

// Store holds learned patterns and mirrors them into persistent storage.
// All methods are safe for concurrent use; each update's read-modify-write
// runs under a single lock.
type Store struct {
	mu       sync.Mutex
	patterns []*popup.Pattern
	cfg      Config

	// writeMu orders persistence writes the same way as the in-memory
	// updates. Readers only take mu.
	writeMu sync.Mutex

	persist store.Store
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPersistence mirrors patterns into s under the learningPatterns namespace.
func WithPersistence(s store.Store) Option {
	return func(st *Store) { st.persist = s }
}

// WithMetrics sets the OTEL metrics.
func WithMetrics(m *Metrics) Option {
	return func(st *Store) { st.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(st *Store) {
		if l != nil {
			st.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(st *Store) { st.now = now }
}

// NewStore creates an empty pattern store.
func NewStore(cfg Config, opts ...Option) *Store {
	s := &Store{
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("learning")
	return s
}

// SetConfig replaces the runtime configuration.
func (s *Store) SetConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Config returns the current configuration.
func (s *Store) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Load replaces the in-memory patterns with the persisted ones. Undecodable
// or invalid entries are skipped.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	raw, err := s.persist.Get(ctx, store.NamespaceLearnedPatterns)
	if err != nil {
		return fmt.Errorf("failed to load patterns: %w", err)
	}

	loaded := make([]*popup.Pattern, 0, len(raw))
	for id, data := range raw {
		var p popup.Pattern
		if err := json.Unmarshal(data, &p); err != nil {
			s.logger.Warn("skipping undecodable pattern", zap.String("pattern_id", id), zap.Error(err))
			continue
		}
		if err := p.Validate(); err != nil {
			s.logger.Warn("skipping invalid pattern", zap.String("pattern_id", id), zap.Error(err))
			continue
		}
		loaded = append(loaded, &p)
	}
	sortByCreation(loaded)

	s.mu.Lock()
	s.patterns = loaded
	s.mu.Unlock()

	s.logger.Info("patterns loaded", zap.Int("count", len(loaded)))
	return nil
}

// Learn folds a settled record into the pattern set.
//
// Invalid records return popup.ErrInvalidRecord and change nothing. Records
// that carry no preference (timeout, dismiss, auto-resolved) or arrive while
// learning is disabled are skipped.
func (s *Store) Learn(ctx context.Context, r *popup.Record) (Action, error) {
	if err := r.Validate(); err != nil {
		return ActionSkipped, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	action, changed := s.learnLocked(r)
	s.mu.Unlock()

	if changed != nil {
		s.metrics.recordLearn(ctx, action, changed.Confidence)
		s.save(ctx, changed)
		s.logger.Debug("pattern updated",
			zap.String("action", string(action)),
			zap.String("pattern_id", changed.ID),
			zap.Float64("confidence", changed.Confidence),
			zap.Int("occurrences", changed.Occurrences))
	} else {
		s.metrics.recordLearn(ctx, action, 0)
	}
	return action, nil
}

// learnLocked applies r and returns a copy of the changed pattern.
func (s *Store) learnLocked(r *popup.Record) (Action, *popup.Pattern) {
	if !s.cfg.Enabled || !r.Decision.Learnable() || r.AutoResolved {
		return ActionSkipped, nil
	}

	match := FindMatchingPattern(s.patterns, r.Characteristics, s.cfg.SimilarityThreshold)
	if match == nil {
		p := NewPattern(r)
		s.patterns = append(s.patterns, p)
		cp := *p
		return ActionCreated, &cp
	}

	p := match.Pattern
	action := ActionReinforced
	if p.Decision == r.Decision {
		p.Confidence = Reinforce(p.Confidence)
	} else {
		p.Confidence = Decay(p.Confidence)
		action = ActionDecayed
	}
	p.Occurrences++
	if r.Timestamp.After(p.LastSeen) {
		p.LastSeen = r.Timestamp
	}
	cp := *p
	return action, &cp
}

// Suggest returns the learned decision for c, or nil when no pattern is both
// similar enough and confident enough.
func (s *Store) Suggest(ctx context.Context, c popup.Characteristics, domain string) *Suggestion {
	s.mu.Lock()
	var sug *Suggestion
	if match := FindMatchingPattern(s.patterns, c, s.cfg.SimilarityThreshold); match != nil &&
		match.Pattern.Confidence >= s.cfg.SuggestionThreshold {
		sug = &Suggestion{
			PatternID:  match.Pattern.ID,
			Decision:   match.Pattern.Decision,
			Confidence: match.Pattern.Confidence,
			Similarity: match.Similarity,
			SameDomain: domain != "" && match.Pattern.Domain == domain,
		}
	}
	s.mu.Unlock()

	s.metrics.recordSuggestion(ctx, sug != nil)
	return sug
}

// Cleanup removes low-confidence and stale patterns and returns how many
// were removed.
func (s *Store) Cleanup(ctx context.Context) int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	kept, removed := CleanupPatterns(s.patterns, s.now(), s.cfg.DecayFloor, s.cfg.MaxAge)
	s.patterns = kept
	s.mu.Unlock()

	if len(removed) == 0 {
		return 0
	}
	s.metrics.recordRemoved(ctx, len(removed))
	if s.persist != nil {
		if err := s.persist.Remove(ctx, store.NamespaceLearnedPatterns, removed...); err != nil {
			s.logger.Warn("failed to remove patterns", zap.Error(err))
		}
	}
	s.logger.Info("patterns cleaned up", zap.Int("removed", len(removed)), zap.Int("kept", len(kept)))
	return len(removed)
}

// Patterns returns a copy of the current patterns in creation order.
func (s *Store) Patterns() []popup.Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]popup.Pattern, len(s.patterns))
	for i, p := range s.patterns {
		out[i] = *p
	}
	return out
}

// Len returns the number of patterns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patterns)
}

func (s *Store) save(ctx context.Context, p *popup.Pattern) {
	if s.persist == nil {
		return
	}
	if err := store.SetJSON(ctx, s.persist, store.NamespaceLearnedPatterns, p.ID, p); err != nil {
		s.logger.Warn("failed to persist pattern", zap.String("pattern_id", p.ID), zap.Error(err))
	}
}

func sortByCreation(patterns []*popup.Pattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		if !patterns[i].CreatedAt.Equal(patterns[j].CreatedAt) {
			return patterns[i].CreatedAt.Before(patterns[j].CreatedAt)
		}
		return patterns[i].ID < patterns[j].ID
	})
}
