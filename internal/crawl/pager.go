package crawl

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/browser"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/config"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/retry"
)

const pageParam = "page"

// PagerConfig bounds the waits around clicking "Next".
type PagerConfig struct {
	NextTimeout    time.Duration
	ListingTimeout time.Duration
	SettleDelay    time.Duration
}

// Pager tracks the current listing page and moves to the next one.
type Pager struct {
	base     *url.URL
	maxPages int
	current  int
	surface  browser.Surface
	cfg      PagerConfig
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *zap.Logger
}

// NewPager starts at page 1 of baseURL. maxPages is capped at
// config.MaxPagesCeiling.
func NewPager(baseURL string, maxPages int, surface browser.Surface, cfg PagerConfig, logger *zap.Logger) (*Pager, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if maxPages < 1 {
		return nil, fmt.Errorf("max pages must be >= 1, got %d", maxPages)
	}
	if maxPages > config.MaxPagesCeiling {
		maxPages = config.MaxPagesCeiling
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pager{
		base:     base,
		maxPages: maxPages,
		current:  1,
		surface:  surface,
		cfg:      cfg,
		sleep:    retry.Sleep,
		logger:   logger,
	}, nil
}

// URL returns the listing URL for page n.
func (p *Pager) URL(n int) string {
	u := *p.base
	q := u.Query()
	q.Set(pageParam, strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String()
}

// Current returns the current page number, starting at 1.
func (p *Pager) Current() int {
	return p.current
}

// AtCeiling reports whether the current page is the last one allowed.
func (p *Pager) AtCeiling() bool {
	return p.current >= p.maxPages
}

// Matches reports whether currentURL shows the current listing page. A URL
// without a page parameter counts as page 1.
func (p *Pager) Matches(currentURL string) bool {
	u, err := url.Parse(currentURL)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Host, p.base.Host) {
		return false
	}
	if strings.TrimRight(u.Path, "/") != strings.TrimRight(p.base.Path, "/") {
		return false
	}
	page := 1
	if raw := u.Query().Get(pageParam); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return false
		}
		page = n
	}
	return page == p.current
}

// Advance clicks the live "Next" control and waits for the new listing.
// It returns false, leaving the page number unchanged, when the ceiling is
// reached or the control is missing, unclickable, or leads nowhere.
func (p *Pager) Advance(ctx context.Context) bool {
	log := p.logger.With(zap.Int("page", p.current))
	if p.AtCeiling() {
		log.Info("page ceiling reached", zap.Int("max_pages", p.maxPages))
		return false
	}
	if !p.surface.WaitUntil(ctx, browser.ElementClickable(browser.MarkerNext), p.cfg.NextTimeout) {
		log.Info("next control not clickable")
		return false
	}
	next, err := p.surface.FindAll(ctx, browser.MarkerNext)
	if err != nil || len(next) == 0 {
		log.Info("next control vanished", zap.Error(err))
		return false
	}
	if err := p.surface.Click(ctx, next[0]); err != nil {
		log.Warn("click next failed", zap.Error(err))
		return false
	}
	if !p.surface.WaitUntil(ctx, browser.ElementPresent(browser.MarkerListing), p.cfg.ListingTimeout) {
		log.Warn("listing did not appear after next")
		return false
	}
	if err := p.sleep(ctx, p.cfg.SettleDelay); err != nil {
		return false
	}
	p.current++
	return true
}
