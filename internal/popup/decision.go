package popup

import "fmt"

// Decision is the way a candidate was settled.
type Decision string

const (
	// DecisionClose means the user asked for the popup to be closed.
	DecisionClose Decision = "close"

	// DecisionKeep means the user chose to leave the popup alone.
	DecisionKeep Decision = "keep"

	// DecisionDismiss means the prompt was dismissed without an opinion.
	DecisionDismiss Decision = "dismiss"

	// DecisionTimeout means nobody answered before the pending decision expired.
	DecisionTimeout Decision = "timeout"
)

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionClose, DecisionKeep, DecisionDismiss, DecisionTimeout:
		return true
	}
	return false
}

// Learnable reports whether d carries a preference the learning store may use.
// Timeouts and dismissals are recorded but never learned from.
func (d Decision) Learnable() bool {
	return d == DecisionClose || d == DecisionKeep
}

// UserChoice reports whether d can arrive from the user decision channel.
func (d Decision) UserChoice() bool {
	return d == DecisionClose || d == DecisionKeep || d == DecisionDismiss
}

// ParseDecision converts a wire value into a Decision.
func ParseDecision(s string) (Decision, error) {
	d := Decision(s)
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
	}
	return d, nil
}
