package popup

// Dimensions is the rendered size of a candidate element in CSS pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Layout carries placement cues used by the confidence scorer.
// It is not part of pattern similarity.
type Layout struct {
	// Position is the computed CSS position (static, relative, absolute, fixed, sticky).
	Position string `json:"position,omitempty"`

	// HasShadow is true when the element renders a box shadow.
	HasShadow bool `json:"has_shadow,omitempty"`

	// NearCenter is true when the element's centre sits close to the viewport centre.
	NearCenter bool `json:"near_center,omitempty"`
}

// Characteristics is the normalized feature vector of a candidate element.
// Produced once per candidate and never mutated afterwards.
type Characteristics struct {
	HasCloseButton   bool       `json:"has_close_button"`
	ContainsAds      bool       `json:"contains_ads"`
	HasExternalLinks bool       `json:"has_external_links"`
	IsModal          bool       `json:"is_modal"`
	ZIndex           int        `json:"z_index"`
	Dimensions       Dimensions `json:"dimensions"`
	Layout           Layout     `json:"layout"`
}

// DefaultCharacteristics returns the conservative record used whenever an
// element cannot be inspected.
func DefaultCharacteristics() Characteristics {
	return Characteristics{}
}

// IsDefault reports whether c carries no signal at all.
func (c Characteristics) IsDefault() bool {
	return c == Characteristics{}
}
