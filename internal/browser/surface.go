// Package browser defines the rendering surface the crawler drives and its
// implementations: a chromedp-backed headless Chrome session and a static
// surface that serves markup without running JavaScript.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotNavigable is returned when a clicked element has nowhere to go.
var ErrNotNavigable = errors.New("element is not navigable")

// ErrUnknownMarker is returned when a marker has no configured selector.
var ErrUnknownMarker = errors.New("unknown marker")

// Marker names a structural element kind on the live page.
type Marker string

// Markers understood by every surface.
const (
	MarkerBody       Marker = "body"
	MarkerListing    Marker = "listing"
	MarkerCard       Marker = "card"
	MarkerCardLink   Marker = "card_link"
	MarkerNext       Marker = "next"
	MarkerPopupClose Marker = "popup_close"
)

// Selectors maps markers onto page selectors. The chromedp surface accepts
// CSS or XPath; the static surface accepts CSS only.
type Selectors struct {
	Body       string `mapstructure:"body"`
	Listing    string `mapstructure:"listing"`
	Card       string `mapstructure:"card"`
	CardLink   string `mapstructure:"card_link"`
	Next       string `mapstructure:"next"`
	PopupClose string `mapstructure:"popup_close"`
}

// DefaultSelectors matches the actuarylist.com listing layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Body:       "body",
		Listing:    "section.Job_grid-section__kgIsR",
		Card:       ".Job_job-card__YgDAV.Job_job-card-active__6V_ep",
		CardLink:   "a.Job_job-page-link__a5I5g",
		Next:       "//button[contains(text(), 'Next')]",
		PopupClose: "//button[contains(text(), 'Cancel') or contains(text(), 'Close')]",
	}
}

// Resolve returns the selector configured for m.
func (s Selectors) Resolve(m Marker) (string, error) {
	var sel string
	switch m {
	case MarkerBody:
		sel = s.Body
	case MarkerListing:
		sel = s.Listing
	case MarkerCard:
		sel = s.Card
	case MarkerCardLink:
		sel = s.CardLink
	case MarkerNext:
		sel = s.Next
	case MarkerPopupClose:
		sel = s.PopupClose
	}
	if sel == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownMarker, m)
	}
	return sel, nil
}

// ConditionKind is the predicate a wait evaluates.
type ConditionKind int

// Supported wait predicates.
const (
	ConditionPresent ConditionKind = iota
	ConditionClickable
	ConditionURLContains
)

// Condition is a predicate on the rendered page.
type Condition struct {
	Kind      ConditionKind
	Marker    Marker
	Substring string
}

// ElementPresent is satisfied once an element for m exists.
func ElementPresent(m Marker) Condition {
	return Condition{Kind: ConditionPresent, Marker: m}
}

// ElementClickable is satisfied once an element for m is visible and enabled.
func ElementClickable(m Marker) Condition {
	return Condition{Kind: ConditionClickable, Marker: m}
}

// URLContains is satisfied once the current URL contains substr.
func URLContains(substr string) Condition {
	return Condition{Kind: ConditionURLContains, Substring: substr}
}

// Element is a snapshot of one live element. Handle is implementation
// specific and only meaningful to the surface that produced it.
type Element struct {
	Handle any
	Text   string
	Attrs  map[string]string
}

// Attr returns an attribute value.
func (e Element) Attr(name string) (string, bool) {
	v, ok := e.Attrs[name]
	return v, ok
}

// WindowHandle identifies a browser window or tab.
type WindowHandle string

// Surface is a single navigable browser session. It is not safe for
// concurrent use; the crawl orchestrator owns it for the run's duration.
type Surface interface {
	Navigate(ctx context.Context, url string) error
	// WaitUntil reports whether cond became true within timeout.
	WaitUntil(ctx context.Context, cond Condition, timeout time.Duration) bool
	CurrentURL(ctx context.Context) (string, error)
	PageMarkup(ctx context.Context) (string, error)
	FindAll(ctx context.Context, m Marker) ([]Element, error)
	FindWithin(ctx context.Context, parent Element, m Marker) ([]Element, error)
	Click(ctx context.Context, el Element) error
	// OpenWindows lists open windows with the primary window first.
	OpenWindows(ctx context.Context) ([]WindowHandle, error)
	CloseWindow(ctx context.Context, w WindowHandle) error
	// SetLocalStorage writes a key into the current origin's localStorage and
	// reloads the page so scripts see it.
	SetLocalStorage(ctx context.Context, key, value string) error
	Quit(ctx context.Context) error
}

// IsXPath reports whether sel is an XPath expression rather than CSS.
func IsXPath(sel string) bool {
	return strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(")
}
