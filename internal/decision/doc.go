// Package decision coordinates the lifecycle of detected popup candidates.
//
// Each actionable candidate becomes a pending decision:
//
//	detected -> auto_suggested | awaiting_user -> resolved | expired
//
// A pending decision owns a cancellable timer. Whichever of a user decision,
// the timer or a forced expiry reaches the entry first settles it; the
// others become no-ops. Settling writes a history record and forwards
// learnable decisions to the pattern store.
//
// A Coordinator serves one tab. It never lets collaborator failures escape:
// presentation, learning and persistence errors are logged and the timer
// still guarantees that no pending decision outlives its timeout.
package decision
