package learning

import (
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/popguard/internal/popup"
)

// Similarity weights in hundredths; they sum to 100 so identical vectors
// score exactly 1.
const (
	boolWeight   = 15
	zIndexWeight = 20
	widthWeight  = 10
	heightWeight = 10
	totalWeight  = 4*boolWeight + zIndexWeight + widthWeight + heightWeight
)

// Tolerance bands within which numeric features count as identical.
const (
	zIndexBand    = 10
	dimensionBand = 50
)

// Similarity returns how alike two characteristics vectors are, in [0,1].
// It is symmetric and reflexive. Layout cues do not take part.
func Similarity(a, b popup.Characteristics) float64 {
	var score float64
	for _, same := range [...]bool{
		a.HasCloseButton == b.HasCloseButton,
		a.ContainsAds == b.ContainsAds,
		a.HasExternalLinks == b.HasExternalLinks,
		a.IsModal == b.IsModal,
	} {
		if same {
			score += boolWeight
		}
	}
	score += zIndexWeight * closeness(a.ZIndex, b.ZIndex, zIndexBand)
	score += widthWeight * closeness(a.Dimensions.Width, b.Dimensions.Width, dimensionBand)
	score += heightWeight * closeness(a.Dimensions.Height, b.Dimensions.Height, dimensionBand)
	return score / totalWeight
}

// closeness is 1 within band and otherwise decays with the distance beyond
// the band relative to the larger magnitude, floored at 0.
func closeness(a, b, band int) float64 {
	d := abs(a - b)
	if d <= band {
		return 1
	}
	m := max(abs(a), abs(b))
	c := 1 - float64(d-band)/float64(m)
	if c < 0 {
		return 0
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Match is a pattern together with its similarity to a query.
type Match struct {
	Pattern    *popup.Pattern
	Similarity float64
}

// FindMatchingPattern returns the best pattern whose similarity to c is at
// least threshold, or nil. Ties on similarity go to the higher confidence,
// then to the most recently seen pattern.
func FindMatchingPattern(patterns []*popup.Pattern, c popup.Characteristics, threshold float64) *Match {
	var best *Match
	for _, p := range patterns {
		sim := Similarity(p.Characteristics, c)
		if sim < threshold {
			continue
		}
		if best == nil || better(p, sim, best) {
			best = &Match{Pattern: p, Similarity: sim}
		}
	}
	return best
}

func better(p *popup.Pattern, sim float64, cur *Match) bool {
	if sim != cur.Similarity {
		return sim > cur.Similarity
	}
	if p.Confidence != cur.Pattern.Confidence {
		return p.Confidence > cur.Pattern.Confidence
	}
	return p.LastSeen.After(cur.Pattern.LastSeen)
}

// NewPattern creates the pattern learned from a first decision.
func NewPattern(r *popup.Record) *popup.Pattern {
	return &popup.Pattern{
		ID:              uuid.New().String(),
		Characteristics: r.Characteristics,
		Decision:        r.Decision,
		Confidence:      DefaultInitialConfidence,
		Occurrences:     1,
		LastSeen:        r.Timestamp,
		Domain:          r.Domain,
		CreatedAt:       r.Timestamp,
	}
}

// Confidence adjustment constants.
const (
	// ReinforceRate is the share of the remaining distance to 1 gained on agreement.
	ReinforceRate = 0.2

	// ReinforceCap bounds reinforcement below 1.
	ReinforceCap = 0.99

	// DecayStep is subtracted on disagreement.
	DecayStep = 0.15
)

// Reinforce returns the confidence after an agreeing decision. It never
// lowers confidence and never reaches 1 from below.
func Reinforce(c float64) float64 {
	next := min(c+(1-c)*ReinforceRate, ReinforceCap)
	return max(c, next)
}

// Decay returns the confidence after a disagreeing decision. It never raises
// confidence and never goes below 0.
func Decay(c float64) float64 {
	return max(0, c-DecayStep)
}

// CleanupPatterns splits patterns into those kept and the IDs removed. A
// pattern is removed when its confidence is below floor or it was last seen
// more than maxAge before now. Kept patterns are returned unchanged and in
// order.
func CleanupPatterns(patterns []*popup.Pattern, now time.Time, floor float64, maxAge time.Duration) (kept []*popup.Pattern, removed []string) {
	kept = make([]*popup.Pattern, 0, len(patterns))
	for _, p := range patterns {
		if p.Confidence < floor || now.Sub(p.LastSeen) > maxAge {
			removed = append(removed, p.ID)
			continue
		}
		kept = append(kept, p)
	}
	return kept, removed
}
