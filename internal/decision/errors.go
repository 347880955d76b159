package decision

import "errors"

// Lifecycle errors.
var (
	ErrPendingNotFound   = errors.New("no pending decision for popup")
	ErrShutdown          = errors.New("coordinator is shut down")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotUserChoice     = errors.New("decision must be close, keep or dismiss")
)
