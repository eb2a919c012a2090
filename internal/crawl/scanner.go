package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/browser"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/metrics"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/retry"
)

// ScannerConfig bounds the wait for job cards on a listing page.
type ScannerConfig struct {
	Attempts int
	Delay    time.Duration
	// ListingTimeout bounds each attempt's wait for the listing container.
	ListingTimeout time.Duration
}

// Scanner finds job cards on the live listing page. Card handles go stale
// whenever the page re-renders, so links are always read from a fresh query.
type Scanner struct {
	surface browser.Surface
	cfg     ScannerConfig
	diag    *Diagnostics
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// NewScanner builds a scanner over surface. diag may be nil.
func NewScanner(surface browser.Surface, cfg ScannerConfig, diag *Diagnostics, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		surface: surface,
		cfg:     cfg,
		diag:    diag,
		sleep:   retry.Sleep,
		logger:  logger,
	}
}

// Cards polls for active job cards. When every attempt comes back empty it
// snapshots the page and returns no cards, which callers treat as the end of
// the data. The only error is cancellation.
func (s *Scanner) Cards(ctx context.Context, page int) ([]browser.Element, error) {
	var cards []browser.Element
	policy := retry.Bounded{Attempts: s.cfg.Attempts, Delay: s.cfg.Delay, Sleep: s.sleep}
	err := policy.Do(ctx, func(ctx context.Context, attempt int) bool {
		if !s.surface.WaitUntil(ctx, browser.ElementPresent(browser.MarkerListing), s.cfg.ListingTimeout) {
			s.logger.Debug("listing container not present", zap.Int("page", page), zap.Int("attempt", attempt+1))
			metrics.ObserveScanRetry()
			return false
		}
		found, err := s.surface.FindAll(ctx, browser.MarkerCard)
		if err != nil || len(found) == 0 {
			s.logger.Debug("no job cards yet", zap.Int("page", page), zap.Int("attempt", attempt+1), zap.Error(err))
			metrics.ObserveScanRetry()
			return false
		}
		cards = found
		return true
	})
	if err == nil {
		return cards, nil
	}
	if !errors.Is(err, retry.ErrExhausted) {
		return nil, fmt.Errorf("scan page %d: %w", page, err)
	}
	s.logger.Info("no job cards found", zap.Int("page", page), zap.Int("attempts", s.cfg.Attempts))
	s.diag.Snapshot(ctx, page)
	return nil, nil
}

// ResolveLink re-queries the live cards and returns the absolute detail URL
// of the card at index.
func (s *Scanner) ResolveLink(ctx context.Context, index int) (string, error) {
	cards, err := s.surface.FindAll(ctx, browser.MarkerCard)
	if err != nil {
		return "", fmt.Errorf("re-query cards: %w", err)
	}
	if index < 0 || index >= len(cards) {
		return "", fmt.Errorf("%w: index %d, %d cards", ErrCardOutOfRange, index, len(cards))
	}
	links, err := s.surface.FindWithin(ctx, cards[index], browser.MarkerCardLink)
	if err != nil {
		return "", fmt.Errorf("query card link: %w", err)
	}
	if len(links) == 0 {
		return "", fmt.Errorf("%w: card %d has no link element", ErrInvalidLink, index)
	}
	href, _ := links[0].Attr("href")
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(strings.ToLower(href), "data:") {
		return "", fmt.Errorf("%w: card %d href %q", ErrInvalidLink, index, href)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: card %d: %v", ErrInvalidLink, index, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	current, err := s.surface.CurrentURL(ctx)
	if err != nil {
		return "", fmt.Errorf("read current url: %w", err)
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("parse current url %q: %w", current, err)
	}
	return base.ResolveReference(ref).String(), nil
}
