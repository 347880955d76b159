// Package popup defines the data model shared by the popguard engine:
// the normalized feature record of a candidate overlay element, the
// decisions a user can take on it, the append-only history record written
// when a candidate is settled, and the learned pattern used for
// similarity-based suggestions.
package popup
