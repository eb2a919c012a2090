package browser

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

const defaultLoadTimeout = 15 * time.Second

// CollyConfig controls the HTTP loader behind the static surface.
type CollyConfig struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// CollyLoader fetches pages over plain HTTP with a Colly collector.
type CollyLoader struct {
	cfg           CollyConfig
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewCollyLoader builds a loader sharing one pooled transport.
func NewCollyLoader(cfg CollyConfig) *CollyLoader {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &CollyLoader{cfg: cfg, baseCollector: c}
}

// Load performs a single GET and returns the response body as markup.
func (l *CollyLoader) Load(ctx context.Context, rawURL string) (Page, error) {
	var (
		page    Page
		loadErr error
	)
	collector := l.buildCollector()
	configureHooks(collector, &page, &loadErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return Page{}, fmt.Errorf("colly load canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return Page{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if loadErr != nil {
			return Page{}, fmt.Errorf("colly response failed: %w", loadErr)
		}
		return page, nil
	}
}

func (l *CollyLoader) buildCollector() *colly.Collector {
	collector := l.baseCollector.Clone()
	if l.cfg.UserAgent != "" {
		collector.UserAgent = l.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !l.cfg.RespectRobots
	// The crawler returns to the same listing page after every card.
	collector.AllowURLRevisit = true
	timeout := l.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLoadTimeout
	}
	collector.SetRequestTimeout(timeout)
	return collector
}

func configureHooks(hooks collectorHooks, page *Page, loadErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*page = Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Markup:     string(r.Body),
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*loadErr = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
