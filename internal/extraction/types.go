package extraction

import "errors"

// ErrUnavailable is returned by accessors when a property cannot be read.
var ErrUnavailable = errors.New("element property unavailable")

// Rect is an element bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Size is a viewport size in CSS pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Node is a flattened descendant of the candidate element.
type Node struct {
	Tag        string            `json:"tag"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Text       string            `json:"text,omitempty"`
}

// Attr returns the named attribute or "".
func (n Node) Attr(name string) string {
	if n.Attributes == nil {
		return ""
	}
	return n.Attributes[name]
}

// ElementAccessor is a read-only view of a candidate element.
// Any method may fail; callers must not assume partial results are usable.
type ElementAccessor interface {
	// ComputedStyle returns the element's computed CSS properties keyed by
	// property name (z-index, position, box-shadow).
	ComputedStyle() (map[string]string, error)

	// BoundingRect returns the element's rendered box.
	BoundingRect() (Rect, error)

	// Viewport returns the visible area of the page.
	Viewport() (Size, error)

	// Attributes returns the element's own attributes.
	Attributes() (map[string]string, error)

	// Text returns the element's visible text.
	Text() (string, error)

	// Descendants returns the interactive and media descendants of the element.
	Descendants() ([]Node, error)

	// PageURL is the URL of the document containing the element.
	PageURL() string
}
