package extraction

// Snapshot is a serialized ElementAccessor. Missing style, rect or viewport
// sections read as ErrUnavailable rather than zero values, so a truncated
// payload yields the default characteristics instead of a misleading record.
type Snapshot struct {
	URL      string            `json:"url"`
	Style    map[string]string `json:"style,omitempty"`
	Rect     *Rect             `json:"rect,omitempty"`
	View     *Size             `json:"viewport,omitempty"`
	Attrs    map[string]string `json:"attributes,omitempty"`
	Content  string            `json:"text,omitempty"`
	Children []Node            `json:"descendants,omitempty"`
}

var _ ElementAccessor = (*Snapshot)(nil)

func (s *Snapshot) ComputedStyle() (map[string]string, error) {
	if s.Style == nil {
		return nil, ErrUnavailable
	}
	return s.Style, nil
}

func (s *Snapshot) BoundingRect() (Rect, error) {
	if s.Rect == nil {
		return Rect{}, ErrUnavailable
	}
	return *s.Rect, nil
}

func (s *Snapshot) Viewport() (Size, error) {
	if s.View == nil {
		return Size{}, ErrUnavailable
	}
	return *s.View, nil
}

func (s *Snapshot) Attributes() (map[string]string, error) {
	if s.Attrs == nil {
		return map[string]string{}, nil
	}
	return s.Attrs, nil
}

func (s *Snapshot) Text() (string, error) { return s.Content, nil }

func (s *Snapshot) Descendants() ([]Node, error) { return s.Children, nil }

func (s *Snapshot) PageURL() string { return s.URL }
