// Package learning implements the pattern store: an online learner that
// remembers how the user settled past popups and suggests the same decision
// for similar candidates.
//
// # Patterns
//
// A Pattern pairs a Characteristics vector with a decision (close or keep) and
// a confidence in [0,1]. The first learnable decision on an unmatched
// candidate creates a pattern with a moderate prior. Later decisions on
// similar candidates either agree with it (reinforce: confidence rises toward,
// but never reaches, 1) or disagree (decay: confidence falls). Occurrences
// only ever grow. A pattern's decision is never flipped; disagreement shows up
// as lower confidence until cleanup drops the pattern.
//
// # Matching
//
// Similarity compares four boolean features exactly and zIndex and dimensions
// by closeness with a tolerance band. A pattern is a match only when its
// similarity clears SimilarityThreshold; a suggestion additionally requires
// the pattern's confidence to clear SuggestionThreshold.
//
// # Exclusions
//
// Timeouts, dismissals and auto-resolved records are never learned from, and
// nothing is learned while learning is disabled.
package learning
