// Package robots gates navigations on the target host's robots.txt.
package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// ErrDisallowed is returned by Wait for URLs robots.txt forbids.
var ErrDisallowed = errors.New("disallowed by robots.txt")

const maxRobotsBytes = 1 << 20

// allowAll stands in for a host whose robots.txt could not be fetched.
var allowAll, _ = robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)

// Waiter is the navigation throttle the gate wraps.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Gate checks robots.txt before delegating to the wrapped waiter. Rules are
// fetched once per host; a failed fetch is cached as allow-all.
type Gate struct {
	next      Waiter
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData
}

// New wraps next. A nil next only checks robots.txt.
func New(next Waiter, userAgent string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		next:      next,
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: userAgent,
		logger:    logger,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// Wait fails with ErrDisallowed when rawURL is off limits, otherwise it
// waits on the wrapped throttle.
func (g *Gate) Wait(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("robots check %q: invalid url", rawURL)
	}
	data, err := g.load(ctx, parsed)
	if err != nil {
		return fmt.Errorf("robots check %q: %w", rawURL, err)
	}
	if !data.TestAgent(pathOf(parsed), g.userAgent) {
		return fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
	}
	if g.next == nil {
		return nil
	}
	return g.next.Wait(ctx, rawURL)
}

func (g *Gate) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(parsed.Host)
	g.mu.Lock()
	data, ok := g.cache[host]
	g.mu.Unlock()
	if ok {
		return data, nil
	}

	data, err := g.fetch(ctx, parsed)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// Remember the failure as allow-all so the host is not refetched
		// on every navigation.
		g.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		data = allowAll
	}

	g.mu.Lock()
	g.cache[host] = data
	g.mu.Unlock()
	return data, nil
}

func (g *Gate) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

func pathOf(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
