package crawl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/browser"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/extract"
)

const (
	testBase  = "https://jobs.example.test/listings"
	testRoot  = "https://jobs.example.test/"
	testPage1 = testBase + "?page=1"
	testPage2 = testBase + "?page=2"
)

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func testSelectors() browser.Selectors {
	return browser.Selectors{
		Body:     "body",
		Listing:  "section.listing",
		Card:     "div.card",
		CardLink: "a.job-link",
		Next:     "a.next",
	}
}

func testDetailSelectors() extract.Selectors {
	return extract.Selectors{
		Title:        "h1.title",
		Company:      "p.company",
		Locations:    "div.locations",
		Country:      "a.country",
		City:         "a.city",
		PostedOn:     "p.posted",
		TagContainer: "div.tags",
		Tag:          "a.tag",
	}
}

// listingPage renders a listing with one card per href. An empty href
// renders a card without a link; next is omitted when empty.
func listingPage(next string, hrefs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><section class="listing">`)
	for i, href := range hrefs {
		if href == "" {
			fmt.Fprintf(&b, `<div class="card"><span>card %d</span></div>`, i+1)
			continue
		}
		fmt.Fprintf(&b, `<div class="card"><a class="job-link" href="%s">card %d</a></div>`, href, i+1)
	}
	b.WriteString(`</section>`)
	if next != "" {
		fmt.Fprintf(&b, `<a class="next" href="%s">Next</a>`, next)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func detailPage(title, company, city string) string {
	return fmt.Sprintf(`<html><body>
<h1 class="title">%s</h1>
<p class="company">%s</p>
<div class="locations"><a class="country">United States</a><a class="city">%s</a></div>
<p class="posted">3d ago</p>
<div class="tags"><a class="tag">Pricing</a><a class="tag">Life</a></div>
</body></html>`, title, company, city)
}

func detailURL(slug string) string {
	return "https://jobs.example.test/actuarial-jobs/" + slug
}

type fixedIDs struct {
	id  string
	err error
}

func (f fixedIDs) NewID() (string, error) {
	return f.id, f.err
}

type countingLimiter struct {
	mu   sync.Mutex
	urls []string
}

func (l *countingLimiter) Wait(_ context.Context, rawURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, rawURL)
	return nil
}

func (l *countingLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.urls)
}

// windowedSurface reports a stray popup window until it is closed and
// records teardown calls.
type windowedSurface struct {
	browser.Surface

	mu     sync.Mutex
	extra  []browser.WindowHandle
	closed []browser.WindowHandle
	quit   bool
}

func (s *windowedSurface) OpenWindows(ctx context.Context) ([]browser.WindowHandle, error) {
	main, err := s.Surface.OpenWindows(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(main, s.extra...), nil
}

func (s *windowedSurface) CloseWindow(_ context.Context, w browser.WindowHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, h := range s.extra {
		if h == w {
			s.extra = append(s.extra[:i], s.extra[i+1:]...)
			s.closed = append(s.closed, w)
			return nil
		}
	}
	return fmt.Errorf("unknown window %q", w)
}

func (s *windowedSurface) Quit(ctx context.Context) error {
	s.mu.Lock()
	s.quit = true
	s.mu.Unlock()
	return s.Surface.Quit(ctx)
}

// storageWrite is one SetLocalStorage call and the page it was made on.
type storageWrite struct {
	key, value, url string
}

// storageSurface records localStorage writes and can fail them.
type storageSurface struct {
	browser.Surface

	err    error
	writes []storageWrite
}

func (s *storageSurface) SetLocalStorage(ctx context.Context, key, value string) error {
	current, _ := s.Surface.CurrentURL(ctx)
	s.writes = append(s.writes, storageWrite{key: key, value: value, url: current})
	return s.err
}

// listingCancelSurface cancels the crawl while it waits for the listing.
type listingCancelSurface struct {
	browser.Surface
	cancel context.CancelFunc
}

func (s listingCancelSurface) WaitUntil(ctx context.Context, cond browser.Condition, timeout time.Duration) bool {
	if cond.Kind == browser.ConditionPresent && cond.Marker == browser.MarkerListing {
		s.cancel()
		return false
	}
	return s.Surface.WaitUntil(ctx, cond, timeout)
}
