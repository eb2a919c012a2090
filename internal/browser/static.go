package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrClosed is returned by a surface after Quit.
var ErrClosed = errors.New("surface closed")

const staticWindow WindowHandle = "static-main"

// Page is markup returned by a Loader.
type Page struct {
	// URL is the final URL after redirects.
	URL        string
	StatusCode int
	Markup     string
}

// Loader fetches the markup behind a URL.
type Loader interface {
	Load(ctx context.Context, rawURL string) (Page, error)
}

// Static is a Surface over server-rendered markup. Conditions are evaluated
// once against the loaded document since nothing mutates it client-side, and
// clicking an element follows its href.
type Static struct {
	loader  Loader
	sel     Selectors
	current string
	markup  string
	doc     *goquery.Document
	closed  bool
}

// NewStatic builds a static surface. Every selector must be CSS.
func NewStatic(loader Loader, sel Selectors) *Static {
	return &Static{
		loader: loader,
		sel:    sel,
		doc:    emptyDocument(),
	}
}

// Navigate loads rawURL. On failure the surface is left on an empty page at
// rawURL, like a browser showing an error page.
func (s *Static) Navigate(ctx context.Context, rawURL string) error {
	if s.closed {
		return ErrClosed
	}
	page, err := s.loader.Load(ctx, rawURL)
	if err != nil {
		s.current, s.markup, s.doc = rawURL, "", emptyDocument()
		return fmt.Errorf("load %s: %w", rawURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Markup))
	if err != nil {
		s.current, s.markup, s.doc = rawURL, "", emptyDocument()
		return fmt.Errorf("parse %s: %w", rawURL, err)
	}
	s.current = page.URL
	if s.current == "" {
		s.current = rawURL
	}
	s.markup = page.Markup
	s.doc = doc
	return nil
}

// WaitUntil evaluates cond against the loaded document.
func (s *Static) WaitUntil(ctx context.Context, cond Condition, _ time.Duration) bool {
	if s.closed || ctx.Err() != nil {
		return false
	}
	switch cond.Kind {
	case ConditionURLContains:
		return strings.Contains(s.current, cond.Substring)
	case ConditionPresent:
		els, err := s.FindAll(ctx, cond.Marker)
		return err == nil && len(els) > 0
	case ConditionClickable:
		els, err := s.FindAll(ctx, cond.Marker)
		if err != nil || len(els) == 0 {
			return false
		}
		_, disabled := els[0].Attr("disabled")
		return !disabled
	default:
		return false
	}
}

// CurrentURL returns the URL of the loaded page.
func (s *Static) CurrentURL(context.Context) (string, error) {
	if s.closed {
		return "", ErrClosed
	}
	return s.current, nil
}

// PageMarkup returns the raw markup of the loaded page.
func (s *Static) PageMarkup(context.Context) (string, error) {
	if s.closed {
		return "", ErrClosed
	}
	return s.markup, nil
}

// FindAll returns every element matching m in document order.
func (s *Static) FindAll(_ context.Context, m Marker) ([]Element, error) {
	if s.closed {
		return nil, ErrClosed
	}
	sel, err := s.cssSelector(m)
	if err != nil {
		return nil, err
	}
	return toElements(s.doc.Find(sel)), nil
}

// FindWithin returns elements matching m below parent.
func (s *Static) FindWithin(_ context.Context, parent Element, m Marker) ([]Element, error) {
	if s.closed {
		return nil, ErrClosed
	}
	node, ok := parent.Handle.(*goquery.Selection)
	if !ok || node == nil {
		return nil, fmt.Errorf("element handle %T does not belong to a static surface", parent.Handle)
	}
	sel, err := s.cssSelector(m)
	if err != nil {
		return nil, err
	}
	return toElements(node.Find(sel)), nil
}

// Click follows the element's href.
func (s *Static) Click(ctx context.Context, el Element) error {
	if s.closed {
		return ErrClosed
	}
	if _, disabled := el.Attr("disabled"); disabled {
		return fmt.Errorf("%w: element disabled", ErrNotNavigable)
	}
	href, ok := el.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return fmt.Errorf("%w: no href", ErrNotNavigable)
	}
	target, err := resolveAgainst(s.current, href)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotNavigable, err)
	}
	return s.Navigate(ctx, target)
}

// OpenWindows always reports the single static window.
func (s *Static) OpenWindows(context.Context) ([]WindowHandle, error) {
	if s.closed {
		return nil, ErrClosed
	}
	return []WindowHandle{staticWindow}, nil
}

// CloseWindow refuses to close the only window.
func (s *Static) CloseWindow(_ context.Context, w WindowHandle) error {
	if s.closed {
		return ErrClosed
	}
	if w == staticWindow {
		return fmt.Errorf("refusing to close primary window %q", w)
	}
	return fmt.Errorf("unknown window %q", w)
}

// SetLocalStorage is a no-op: static pages run no scripts that could read it.
func (s *Static) SetLocalStorage(context.Context, string, string) error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Quit releases the surface. Subsequent calls fail with ErrClosed.
func (s *Static) Quit(context.Context) error {
	s.closed = true
	s.doc = emptyDocument()
	return nil
}

func (s *Static) cssSelector(m Marker) (string, error) {
	sel, err := s.sel.Resolve(m)
	if err != nil {
		return "", err
	}
	if IsXPath(sel) {
		return "", fmt.Errorf("marker %q: static surface needs a CSS selector, got XPath %q", m, sel)
	}
	return sel, nil
}

func toElements(sel *goquery.Selection) []Element {
	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, item *goquery.Selection) {
		attrs := make(map[string]string)
		for _, node := range item.Nodes {
			for _, a := range node.Attr {
				attrs[a.Key] = a.Val
			}
		}
		out = append(out, Element{
			Handle: item,
			Text:   strings.TrimSpace(item.Text()),
			Attrs:  attrs,
		})
	})
	return out
}

func resolveAgainst(base, ref string) (string, error) {
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base: %w", err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

func emptyDocument() *goquery.Document {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(""))
	return doc
}
