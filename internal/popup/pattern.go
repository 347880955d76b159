package popup

import (
	"errors"
	"time"
)

// Pattern is a learned association between a feature vector and a decision.
//
// Confidence expresses how well the stored decision generalizes to similar
// candidates. It is reinforced by agreeing decisions and decays on
// disagreement; occurrences never decrease.
type Pattern struct {
	ID              string          `json:"pattern_id"`
	Characteristics Characteristics `json:"characteristics"`
	Decision        Decision        `json:"user_decision"`
	Confidence      float64         `json:"confidence"`
	Occurrences     int             `json:"occurrences"`
	LastSeen        time.Time       `json:"last_seen"`

	// Domain is where the first decision for this pattern was taken.
	Domain    string    `json:"domain,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks pattern invariants.
func (p *Pattern) Validate() error {
	if p.ID == "" {
		return errors.New("pattern ID cannot be empty")
	}
	if !p.Decision.Learnable() {
		return errors.New("pattern decision must be 'close' or 'keep'")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return ErrInvalidConfidence
	}
	if p.Occurrences < 1 {
		return errors.New("occurrences must be at least 1")
	}
	return nil
}
