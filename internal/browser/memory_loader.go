package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrPageNotFound is returned by MapLoader for unknown URLs.
var ErrPageNotFound = errors.New("page not found")

// MapLoader serves canned markup keyed by exact URL. It backs the static
// surface in tests and when replaying captured pages.
type MapLoader struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	visits []string
}

// NewMapLoader returns an empty MapLoader.
func NewMapLoader() *MapLoader {
	return &MapLoader{
		pages: make(map[string]string),
		errs:  make(map[string]error),
	}
}

// Set registers markup for rawURL.
func (l *MapLoader) Set(rawURL, markup string) *MapLoader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pages[rawURL] = markup
	return l
}

// Fail makes every load of rawURL return err.
func (l *MapLoader) Fail(rawURL string, err error) *MapLoader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs[rawURL] = err
	return l
}

// Load returns the registered page or an error.
func (l *MapLoader) Load(ctx context.Context, rawURL string) (Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visits = append(l.visits, rawURL)
	if err := ctx.Err(); err != nil {
		return Page{}, fmt.Errorf("load canceled: %w", err)
	}
	if err, ok := l.errs[rawURL]; ok {
		return Page{}, err
	}
	markup, ok := l.pages[rawURL]
	if !ok {
		return Page{}, fmt.Errorf("%w: %s", ErrPageNotFound, rawURL)
	}
	return Page{URL: rawURL, StatusCode: http.StatusOK, Markup: markup}, nil
}

// Visits returns every URL requested so far, in order.
func (l *MapLoader) Visits() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.visits))
	copy(out, l.visits)
	return out
}
