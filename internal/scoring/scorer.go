// Package scoring maps popup characteristics to a confidence that the
// element is an intrusive popup.
//
// The score is a weighted sum of layout and content cues, capped at 100 and
// normalized to [0,1]. Scores are bucketed into tiers that drive what the
// decision coordinator does with a candidate.
package scoring

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/popguard/internal/popup"
)

// Tier classifies a score.
type Tier string

const (
	// TierHigh candidates are eligible for pattern suggestions.
	TierHigh Tier = "high"

	// TierMedium candidates are presented to the user.
	TierMedium Tier = "medium"

	// TierLow candidates are ignored.
	TierLow Tier = "low"
)

// Actionable reports whether candidates in this tier reach the user.
func (t Tier) Actionable() bool {
	return t == TierHigh || t == TierMedium
}

// maxPoints caps the raw sum before normalization.
const maxPoints = 100

// Weights are the points each cue contributes.
type Weights struct {
	FixedPosition    float64 `koanf:"fixed_position" json:"fixed_position"`
	AbsolutePosition float64 `koanf:"absolute_position" json:"absolute_position"`
	VeryHighZIndex   float64 `koanf:"very_high_z_index" json:"very_high_z_index"`
	HighZIndex       float64 `koanf:"high_z_index" json:"high_z_index"`
	Shadow           float64 `koanf:"shadow" json:"shadow"`
	NearCenter       float64 `koanf:"near_center" json:"near_center"`
	CloseButton      float64 `koanf:"close_button" json:"close_button"`
}

// DefaultWeights returns the calibrated default weights.
func DefaultWeights() Weights {
	return Weights{
		FixedPosition:    30,
		AbsolutePosition: 15,
		VeryHighZIndex:   20,
		HighZIndex:       10,
		Shadow:           15,
		NearCenter:       10,
		CloseButton:      25,
	}
}

// Thresholds are the lower bounds of the high and medium tiers.
type Thresholds struct {
	High   float64 `koanf:"high" json:"high"`
	Medium float64 `koanf:"medium" json:"medium"`
}

// DefaultThresholds returns high >= 0.8, medium >= 0.5.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.8, Medium: 0.5}
}

// ErrInvalidThresholds is returned for thresholds outside [0,1] or out of order.
var ErrInvalidThresholds = errors.New("tier thresholds must satisfy 0 <= medium <= high <= 1")

// Validate checks threshold ordering.
func (t Thresholds) Validate() error {
	if t.Medium < 0 || t.High > 1 || t.Medium > t.High {
		return fmt.Errorf("%w: medium=%v high=%v", ErrInvalidThresholds, t.Medium, t.High)
	}
	return nil
}

// Result is the outcome of scoring one candidate.
type Result struct {
	// Value is the normalized score in [0,1].
	Value float64 `json:"value"`
	Tier  Tier    `json:"tier"`

	// Reasons lists the cues that contributed points, in rule order.
	Reasons []string `json:"reasons,omitempty"`
}

// scoreRule awards points when its predicate holds.
type scoreRule struct {
	name   string
	points func(w Weights) float64
	when   func(c popup.Characteristics) bool
}

// Rules are evaluated in order. Position and z-index rules are mutually
// exclusive within their group.
var scoreRules = []scoreRule{
	{
		name:   "fixed_position",
		points: func(w Weights) float64 { return w.FixedPosition },
		when:   func(c popup.Characteristics) bool { return c.Layout.Position == "fixed" },
	},
	{
		name:   "absolute_position",
		points: func(w Weights) float64 { return w.AbsolutePosition },
		when:   func(c popup.Characteristics) bool { return c.Layout.Position == "absolute" },
	},
	{
		name:   "z_index_above_1000",
		points: func(w Weights) float64 { return w.VeryHighZIndex },
		when:   func(c popup.Characteristics) bool { return c.ZIndex > 1000 },
	},
	{
		name:   "z_index_above_100",
		points: func(w Weights) float64 { return w.HighZIndex },
		when:   func(c popup.Characteristics) bool { return c.ZIndex > 100 && c.ZIndex <= 1000 },
	},
	{
		name:   "shadow",
		points: func(w Weights) float64 { return w.Shadow },
		when:   func(c popup.Characteristics) bool { return c.Layout.HasShadow },
	},
	{
		name:   "near_center",
		points: func(w Weights) float64 { return w.NearCenter },
		when:   func(c popup.Characteristics) bool { return c.Layout.NearCenter },
	},
	{
		name:   "close_button",
		points: func(w Weights) float64 { return w.CloseButton },
		when:   func(c popup.Characteristics) bool { return c.HasCloseButton },
	},
}

// Scorer is a pure, deterministic scoring function. The zero value is not
// usable; use NewScorer.
type Scorer struct {
	weights    Weights
	thresholds Thresholds
}

// NewScorer creates a scorer. Invalid thresholds fall back to the defaults.
func NewScorer(w Weights, t Thresholds) *Scorer {
	if t.Validate() != nil {
		t = DefaultThresholds()
	}
	return &Scorer{weights: w, thresholds: t}
}

// NewDefaultScorer uses DefaultWeights and DefaultThresholds.
func NewDefaultScorer() *Scorer {
	return NewScorer(DefaultWeights(), DefaultThresholds())
}

// Score computes the confidence that c describes an intrusive popup.
func (s *Scorer) Score(c popup.Characteristics) Result {
	var (
		points  float64
		reasons []string
	)
	for _, r := range scoreRules {
		if !r.when(c) {
			continue
		}
		p := r.points(s.weights)
		if p <= 0 {
			continue
		}
		points += p
		reasons = append(reasons, r.name)
	}
	if points > maxPoints {
		points = maxPoints
	}

	value := points / maxPoints
	return Result{Value: value, Tier: s.Classify(value), Reasons: reasons}
}

// Classify returns the tier for a normalized value.
func (s *Scorer) Classify(value float64) Tier {
	switch {
	case value >= s.thresholds.High:
		return TierHigh
	case value >= s.thresholds.Medium:
		return TierMedium
	default:
		return TierLow
	}
}
