package popup

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is the append-only history entry written when a candidate is settled.
type Record struct {
	// ID is the unique record identifier (UUID).
	ID string `json:"id"`

	// PopupID identifies the candidate on its page.
	PopupID string `json:"popup_id"`

	// TabID identifies the browsing session the candidate was seen in.
	TabID string `json:"tab_id,omitempty"`

	URL    string `json:"url"`
	Domain string `json:"domain"`

	Timestamp       time.Time       `json:"timestamp"`
	Characteristics Characteristics `json:"characteristics"`
	Decision        Decision        `json:"user_decision"`

	// Confidence is the scorer's value for the candidate, in [0,1].
	Confidence float64 `json:"confidence"`

	// AutoResolved is set when the engine acted on a suggestion without asking.
	AutoResolved bool `json:"auto_resolved,omitempty"`
}

// NewRecord builds a history record with a generated ID.
func NewRecord(popupID, url, domain string, c Characteristics, d Decision, confidence float64, at time.Time) *Record {
	return &Record{
		ID:              uuid.New().String(),
		PopupID:         popupID,
		URL:             url,
		Domain:          domain,
		Timestamp:       at,
		Characteristics: c,
		Decision:        d,
		Confidence:      confidence,
	}
}

// Validate checks that the record can be stored or learned from.
func (r *Record) Validate() error {
	if r == nil {
		return ErrInvalidRecord
	}
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if !r.Decision.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrInvalidDecision)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrInvalidConfidence)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidRecord)
	}
	return nil
}

// DecisionEntry is one item of the user decision log.
type DecisionEntry struct {
	PopupID   string    `json:"popup_id"`
	TabID     string    `json:"tab_id,omitempty"`
	Domain    string    `json:"domain"`
	Decision  Decision  `json:"decision"`
	Timestamp time.Time `json:"timestamp"`
}

// Entry returns the decision log item for r.
func (r *Record) Entry() DecisionEntry {
	return DecisionEntry{
		PopupID:   r.PopupID,
		TabID:     r.TabID,
		Domain:    r.Domain,
		Decision:  r.Decision,
		Timestamp: r.Timestamp,
	}
}
