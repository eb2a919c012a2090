package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultActionTimeout     = 10 * time.Second
	urlPollInterval          = 250 * time.Millisecond
)

// ChromedpConfig controls the headless Chrome session.
type ChromedpConfig struct {
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
}

// Chromedp is a Surface backed by one Chrome tab. Other tabs the site opens
// are reported by OpenWindows and can be closed individually.
type Chromedp struct {
	cfg           ChromedpConfig
	sel           Selectors
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	primary       target.ID
	closed        bool
}

// NewChromedp launches Chrome and opens the primary tab.
func NewChromedp(ctx context.Context, cfg ChromedpConfig, sel Selectors) (*Chromedp, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	c := &Chromedp{
		cfg:           cfg,
		sel:           sel,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}
	// The first Run allocates the browser and binds its lifetime to the
	// context it receives, so it must not carry a timeout.
	stop := forwardCancel(ctx, browserCancel)
	err := chromedp.Run(browserCtx, c.setupAction())
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	if t := chromedp.FromContext(browserCtx).Target; t != nil {
		c.primary = t.TargetID
	}
	return c, nil
}

// Navigate loads url in the primary tab and waits for the load event.
func (c *Chromedp) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, c.cfg.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// SetLocalStorage sets key on the current origin and reloads the page.
func (c *Chromedp) SetLocalStorage(ctx context.Context, key, value string) error {
	script := fmt.Sprintf("window.localStorage.setItem(%s, %s)", strconv.Quote(key), strconv.Quote(value))
	if err := c.run(ctx, c.cfg.NavigationTimeout,
		chromedp.Evaluate(script, nil),
		chromedp.Reload(),
	); err != nil {
		return fmt.Errorf("set localStorage %q: %w", key, err)
	}
	return nil
}

// WaitUntil blocks until cond holds, timeout elapses, or ctx ends.
func (c *Chromedp) WaitUntil(ctx context.Context, cond Condition, timeout time.Duration) bool {
	if cond.Kind == ConditionURLContains {
		return c.waitURL(ctx, cond.Substring, timeout)
	}
	sel, err := c.sel.Resolve(cond.Marker)
	if err != nil {
		return false
	}
	var actions []chromedp.Action
	switch cond.Kind {
	case ConditionPresent:
		actions = []chromedp.Action{chromedp.WaitReady(sel, chromedp.BySearch)}
	case ConditionClickable:
		actions = []chromedp.Action{
			chromedp.WaitVisible(sel, chromedp.BySearch),
			chromedp.WaitEnabled(sel, chromedp.BySearch),
		}
	default:
		return false
	}
	return c.run(ctx, timeout, actions...) == nil
}

func (c *Chromedp) waitURL(ctx context.Context, substr string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		current, err := c.CurrentURL(ctx)
		if err == nil && strings.Contains(current, substr) {
			return true
		}
		if errors.Is(err, ErrClosed) || time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(urlPollInterval):
		}
	}
}

// CurrentURL returns the primary tab's location.
func (c *Chromedp) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := c.run(ctx, defaultActionTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// PageMarkup returns the rendered DOM serialized as HTML.
func (c *Chromedp) PageMarkup(ctx context.Context) (string, error) {
	var html string
	if err := c.run(ctx, defaultActionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read markup: %w", err)
	}
	return html, nil
}

// FindAll returns the elements currently matching m without waiting.
func (c *Chromedp) FindAll(ctx context.Context, m Marker) ([]Element, error) {
	sel, err := c.sel.Resolve(m)
	if err != nil {
		return nil, err
	}
	var nodes []*cdp.Node
	err = c.run(ctx, defaultActionTimeout, chromedp.Nodes(sel, &nodes, chromedp.BySearch, chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", m, err)
	}
	return nodesToElements(nodes), nil
}

// FindWithin returns elements matching m below parent. Only CSS selectors
// can be scoped to a node.
func (c *Chromedp) FindWithin(ctx context.Context, parent Element, m Marker) ([]Element, error) {
	node, ok := parent.Handle.(*cdp.Node)
	if !ok || node == nil {
		return nil, fmt.Errorf("element handle %T does not belong to a chromedp surface", parent.Handle)
	}
	sel, err := c.sel.Resolve(m)
	if err != nil {
		return nil, err
	}
	if IsXPath(sel) {
		return nil, fmt.Errorf("marker %q: scoped queries need a CSS selector, got XPath %q", m, sel)
	}
	var nodes []*cdp.Node
	err = c.run(ctx, defaultActionTimeout,
		chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.FromNode(node), chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("query %s within node: %w", m, err)
	}
	return nodesToElements(nodes), nil
}

// Click dispatches a left click at the element's center.
func (c *Chromedp) Click(ctx context.Context, el Element) error {
	node, ok := el.Handle.(*cdp.Node)
	if !ok || node == nil {
		return fmt.Errorf("%w: handle %T", ErrNotNavigable, el.Handle)
	}
	if err := c.run(ctx, defaultActionTimeout, chromedp.MouseClickNode(node)); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// OpenWindows lists page targets with the primary tab first.
func (c *Chromedp) OpenWindows(ctx context.Context) ([]WindowHandle, error) {
	if c.closed {
		return nil, ErrClosed
	}
	runCtx, cancel := context.WithTimeout(c.browserCtx, defaultActionTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	return orderWindows(infos, c.primary), nil
}

// CloseWindow closes a secondary tab. The primary tab cannot be closed.
func (c *Chromedp) CloseWindow(ctx context.Context, w WindowHandle) error {
	if c.closed {
		return ErrClosed
	}
	if target.ID(w) == c.primary {
		return fmt.Errorf("refusing to close primary window %q", w)
	}
	runCtx, cancel := context.WithTimeout(c.browserCtx, defaultActionTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	browser := chromedp.FromContext(c.browserCtx).Browser
	if err := target.CloseTarget(target.ID(w)).Do(cdp.WithExecutor(runCtx, browser)); err != nil {
		return fmt.Errorf("close window %s: %w", w, err)
	}
	return nil
}

// Quit closes Chrome and releases the allocator.
func (c *Chromedp) Quit(context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := chromedp.Cancel(c.browserCtx)
	c.browserCancel()
	c.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

func (c *Chromedp) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if c.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// run executes actions on the primary tab, bounded by timeout and by the
// caller's context. Canceling the derived context leaves the tab open.
func (c *Chromedp) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if c.closed {
		return ErrClosed
	}
	runCtx, cancel := context.WithTimeout(c.browserCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func orderWindows(infos []*target.Info, primary target.ID) []WindowHandle {
	out := make([]WindowHandle, 0, len(infos))
	var rest []WindowHandle
	for _, info := range infos {
		if info == nil || info.Type != "page" {
			continue
		}
		if info.TargetID == primary {
			out = append(out, WindowHandle(info.TargetID))
			continue
		}
		rest = append(rest, WindowHandle(info.TargetID))
	}
	return append(out, rest...)
}

func nodesToElements(nodes []*cdp.Node) []Element {
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Element{
			Handle: n,
			Text:   nodeText(n),
			Attrs:  nodeAttrs(n),
		})
	}
	return out
}

func nodeAttrs(n *cdp.Node) map[string]string {
	attrs := make(map[string]string, len(n.Attributes)/2)
	for i := 0; i+1 < len(n.Attributes); i += 2 {
		attrs[n.Attributes[i]] = n.Attributes[i+1]
	}
	return attrs
}

func nodeText(n *cdp.Node) string {
	var b strings.Builder
	var walk func(*cdp.Node)
	walk = func(node *cdp.Node) {
		if node == nil {
			return
		}
		if node.NodeType == cdp.NodeTypeText {
			b.WriteString(node.NodeValue)
		}
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
