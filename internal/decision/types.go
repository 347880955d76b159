package decision

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/popguard/internal/learning"
	"github.com/fyrsmithlabs/popguard/internal/popup"
	"github.com/fyrsmithlabs/popguard/internal/scoring"
)

// State is the lifecycle state of a pending decision.
type State string

const (
	StateDetected      State = "detected"
	StateAutoSuggested State = "auto_suggested"
	StateAwaitingUser  State = "awaiting_user"
	StateResolved      State = "resolved"
	StateExpired       State = "expired"
)

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[State][]State{
	StateDetected:      {StateAutoSuggested, StateAwaitingUser, StateResolved},
	StateAutoSuggested: {StateResolved, StateExpired},
	StateAwaitingUser:  {StateResolved, StateExpired},
	StateResolved:      {}, // terminal
	StateExpired:       {}, // terminal
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s State) IsTerminal() bool {
	return s == StateResolved || s == StateExpired
}

// Outcome is what Detect did with a candidate.
type Outcome string

const (
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeAutoResolved  Outcome = "auto_resolved"
	OutcomeAutoSuggested Outcome = "auto_suggested"
	OutcomeAwaitingUser  Outcome = "awaiting_user"
)

// Candidate is a scored popup reported for one tab.
type Candidate struct {
	PopupID         string                `json:"popup_id"`
	URL             string                `json:"url"`
	Domain          string                `json:"domain"`
	Characteristics popup.Characteristics `json:"characteristics"`
	Score           scoring.Result        `json:"score"`
}

// Pending is the view of an open pending decision handed to the user
// decision channel and returned by listings.
type Pending struct {
	PopupID         string                `json:"popup_id"`
	TabID           string                `json:"tab_id"`
	URL             string                `json:"url"`
	Domain          string                `json:"domain"`
	Characteristics popup.Characteristics `json:"characteristics"`
	Score           scoring.Result        `json:"score"`
	Suggestion      *learning.Suggestion  `json:"suggestion,omitempty"`
	State           State                 `json:"state"`
	CreatedAt       time.Time             `json:"created_at"`
	ExpiresAt       time.Time             `json:"expires_at"`
}

// DetectResult reports the outcome of Detect.
type DetectResult struct {
	Outcome    Outcome              `json:"outcome"`
	Suggestion *learning.Suggestion `json:"suggestion,omitempty"`

	// Record is set when the candidate was auto-resolved.
	Record *popup.Record `json:"record,omitempty"`
}

// UserDecisionChannel presents candidates to the user. Answers come back
// through Coordinator.Resolve.
type UserDecisionChannel interface {
	Present(ctx context.Context, p Pending) error
}

// Withdrawer is implemented by channels that can retract a presentation once
// the candidate is settled.
type Withdrawer interface {
	Withdraw(ctx context.Context, tabID, popupID string)
}

// Suggester looks up learned decisions.
type Suggester interface {
	Suggest(ctx context.Context, c popup.Characteristics, domain string) *learning.Suggestion
}

// Learner receives settled records.
type Learner interface {
	Learn(ctx context.Context, r *popup.Record) (learning.Action, error)
}

// HistorySink stores settled records.
type HistorySink interface {
	Append(ctx context.Context, r popup.Record)
}
