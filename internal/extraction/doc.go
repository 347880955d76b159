// Package extraction turns a candidate overlay element into a normalized
// popup.Characteristics record.
//
// The extractor only reads through an ElementAccessor. Accessors may fail at
// any point (the element can be detached, cross-origin or half rendered), so
// Extract never returns an error: any failure yields
// popup.DefaultCharacteristics and is counted.
//
// # Heuristics
//
// Each feature is decided by an ordered table of compiled rules:
//   - close button: a descendant whose label, title, class, id or text reads
//     like close, dismiss or "no thanks", or is a bare × glyph
//   - ads: ad network hosts or ad/sponsor/promo class names on the element or
//     its descendants
//   - external links: a descendant anchor pointing at another http(s) host
//   - modal: dialog roles, aria-modal, modal-like class names, or a fixed
//     element covering a large share of the viewport
//
// Snapshot is the JSON form of an accessor that the browser extension posts.
package extraction
