package extraction

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/popup"
)

// featureRule pairs a compiled regex with the feature it detects and the
// attributes it is matched against. Rules are evaluated in order; the first
// match wins.
type featureRule struct {
	name   string
	regex  *regexp.Regexp
	fields []string
}

// matches reports whether any of the rule's fields (or the node text when
// "text" is listed) match.
func (r *featureRule) matches(attrs map[string]string, text string) bool {
	for _, f := range r.fields {
		v := attrs[f]
		if f == "text" {
			v = text
		}
		if v != "" && r.regex.MatchString(v) {
			return true
		}
	}
	return false
}

// Close-control rules. Class names commonly join words with - or _, so word
// boundaries are spelled out instead of using \b.
func buildCloseRules() []*featureRule {
	return []*featureRule{
		{
			name:   "close_glyph",
			regex:  regexp.MustCompile(`^\s*[×✕✖╳xX]\s*$`),
			fields: []string{"text", "aria-label"},
		},
		{
			name:   "close_label",
			regex:  regexp.MustCompile(`(?i)(?:^|[^a-z])(?:close|dismiss|no[\s_-]?thanks|not[\s_-]?now|maybe[\s_-]?later|skip)(?:[^a-z]|$)`),
			fields: []string{"aria-label", "title", "text"},
		},
		{
			name:   "close_class",
			regex:  regexp.MustCompile(`(?i)(?:^|[^a-z])(?:close|dismiss|btn[-_]?x)(?:[^a-z]|$)`),
			fields: []string{"class", "id", "data-dismiss", "data-action"},
		},
	}
}

func buildAdRules() []*featureRule {
	return []*featureRule{
		{
			name:   "ad_network",
			regex:  regexp.MustCompile(`(?i)doubleclick|googlesyndication|googleadservices|adservice|adnxs|taboola|outbrain|criteo|amazon-adsystem`),
			fields: []string{"src", "href", "data-src"},
		},
		{
			name:   "ad_marker",
			regex:  regexp.MustCompile(`(?i)(?:^|[^a-z])(?:ads?|advert\w*|sponsor\w*|promo\w*|banner[-_]?ad)(?:[^a-z]|$)`),
			fields: []string{"class", "id", "data-ad", "data-ad-slot"},
		},
	}
}

func buildModalRules() []*featureRule {
	return []*featureRule{
		{
			name:   "dialog_role",
			regex:  regexp.MustCompile(`(?i)^(?:dialog|alertdialog)$`),
			fields: []string{"role"},
		},
		{
			name:   "aria_modal",
			regex:  regexp.MustCompile(`(?i)^true$`),
			fields: []string{"aria-modal"},
		},
		{
			name:   "modal_class",
			regex:  regexp.MustCompile(`(?i)modal|overlay|lightbox|popup|pop-up|interstitial|paywall`),
			fields: []string{"class", "id"},
		},
	}
}

// closeTags are the descendant tags considered as close controls. Elements
// with role=button are always considered.
var closeTags = map[string]bool{
	"button": true, "a": true, "span": true, "div": true, "i": true, "svg": true, "img": true,
}

const (
	// Share of the viewport a fixed element must cover to count as modal.
	modalCoverage = 0.3

	// Distance from the viewport centre, as a share of each viewport axis,
	// within which an element counts as centred.
	centerTolerance = 0.2
)

// Extractor derives Characteristics from element accessors.
// Safe for concurrent use: rule tables are compiled at construction time.
type Extractor struct {
	closeRules []*featureRule
	adRules    []*featureRule
	modalRules []*featureRule
	logger     *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger used for extraction failures.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExtractor creates an extractor with the built-in rule tables.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		closeRules: buildCloseRules(),
		adRules:    buildAdRules(),
		modalRules: buildModalRules(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("extraction")
	return e
}

// Extract reads el and returns its characteristics. It never fails: any
// accessor error or panic yields popup.DefaultCharacteristics.
func (e *Extractor) Extract(el ElementAccessor) (c popup.Characteristics) {
	defer func() {
		if r := recover(); r != nil {
			e.fail("panic", fmt.Errorf("accessor panic: %v", r))
			c = popup.DefaultCharacteristics()
		}
	}()

	if el == nil {
		e.fail("nil", ErrUnavailable)
		return popup.DefaultCharacteristics()
	}

	c, stage, err := e.extract(el)
	if err != nil {
		e.fail(stage, err)
		return popup.DefaultCharacteristics()
	}
	return c
}

// PageURL returns the URL of the page el belongs to, or "" when the
// accessor is missing, fails or panics.
func (e *Extractor) PageURL(el ElementAccessor) (u string) {
	defer func() {
		if r := recover(); r != nil {
			e.fail("page_url", fmt.Errorf("accessor panic: %v", r))
			u = ""
		}
	}()
	if el == nil {
		return ""
	}
	return el.PageURL()
}

func (e *Extractor) extract(el ElementAccessor) (popup.Characteristics, string, error) {
	var c popup.Characteristics

	style, err := el.ComputedStyle()
	if err != nil {
		return c, "style", err
	}
	rect, err := el.BoundingRect()
	if err != nil {
		return c, "rect", err
	}
	view, err := el.Viewport()
	if err != nil {
		return c, "viewport", err
	}
	attrs, err := el.Attributes()
	if err != nil {
		return c, "attributes", err
	}
	text, err := el.Text()
	if err != nil {
		return c, "text", err
	}
	nodes, err := el.Descendants()
	if err != nil {
		return c, "descendants", err
	}

	position := strings.ToLower(strings.TrimSpace(style["position"]))

	c.HasCloseButton = e.hasCloseButton(nodes)
	c.ContainsAds = e.containsAds(attrs, text, nodes)
	c.HasExternalLinks = hasExternalLinks(el.PageURL(), nodes)
	c.IsModal = e.isModal(attrs, text, position, rect, view)
	c.ZIndex = parseZIndex(style["z-index"])
	c.Dimensions = popup.Dimensions{
		Width:  roundPixels(rect.Width),
		Height: roundPixels(rect.Height),
	}
	c.Layout = popup.Layout{
		Position:   position,
		HasShadow:  hasShadow(style["box-shadow"]),
		NearCenter: nearCenter(rect, view),
	}
	return c, "", nil
}

func (e *Extractor) fail(stage string, err error) {
	recordFailure(stage)
	e.logger.Debug("feature extraction failed, using defaults",
		zap.String("stage", stage),
		zap.Error(err))
}

func (e *Extractor) hasCloseButton(nodes []Node) bool {
	for _, n := range nodes {
		if !closeTags[strings.ToLower(n.Tag)] && !strings.EqualFold(n.Attr("role"), "button") {
			continue
		}
		if firstMatch(e.closeRules, n.Attributes, n.Text) != nil {
			return true
		}
	}
	return false
}

func (e *Extractor) containsAds(attrs map[string]string, text string, nodes []Node) bool {
	if firstMatch(e.adRules, attrs, text) != nil {
		return true
	}
	for _, n := range nodes {
		if firstMatch(e.adRules, n.Attributes, n.Text) != nil {
			return true
		}
	}
	return false
}

func (e *Extractor) isModal(attrs map[string]string, text, position string, rect Rect, view Size) bool {
	if firstMatch(e.modalRules, attrs, text) != nil {
		return true
	}
	if position != "fixed" {
		return false
	}
	viewArea := view.Width * view.Height
	if viewArea <= 0 {
		return false
	}
	return rect.Width*rect.Height >= modalCoverage*viewArea
}

func firstMatch(rules []*featureRule, attrs map[string]string, text string) *featureRule {
	for _, r := range rules {
		if r.matches(attrs, text) {
			return r
		}
	}
	return nil
}

// hasExternalLinks reports whether any anchor resolves to an http(s) host
// other than the page's own host. www. prefixes are ignored.
func hasExternalLinks(pageURL string, nodes []Node) bool {
	base, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	pageHost := canonicalHost(base.Hostname())

	for _, n := range nodes {
		if !strings.EqualFold(n.Tag, "a") {
			continue
		}
		href := strings.TrimSpace(n.Attr("href"))
		if href == "" {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		target := base.ResolveReference(ref)
		if target.Scheme != "http" && target.Scheme != "https" {
			continue
		}
		if host := canonicalHost(target.Hostname()); host != "" && host != pageHost {
			return true
		}
	}
	return false
}

func canonicalHost(h string) string {
	return strings.TrimPrefix(strings.ToLower(h), "www.")
}

// parseZIndex converts a computed z-index; auto and garbage read as 0.
func parseZIndex(v string) int {
	z, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return z
}

func hasShadow(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !strings.EqualFold(v, "none")
}

func nearCenter(rect Rect, view Size) bool {
	if view.Width <= 0 || view.Height <= 0 || rect.Width <= 0 || rect.Height <= 0 {
		return false
	}
	cx := rect.X + rect.Width/2
	cy := rect.Y + rect.Height/2
	return math.Abs(cx-view.Width/2) <= centerTolerance*view.Width &&
		math.Abs(cy-view.Height/2) <= centerTolerance*view.Height
}

func roundPixels(v float64) int {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int(math.Round(v))
}
