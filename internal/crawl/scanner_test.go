package crawl

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/browser"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/storage/memory"
)

func newScannerFixture(t *testing.T, markup string) (*Scanner, *memory.BlobStore) {
	t.Helper()
	loader := browser.NewMapLoader().Set(testPage1, markup)
	surface := browser.NewStatic(loader, testSelectors())
	require.NoError(t, surface.Navigate(context.Background(), testPage1))
	blobs := memory.NewBlobStore()
	diag := NewDiagnostics(blobs, "diag", "run-1", surface, nil)
	s := NewScanner(surface, ScannerConfig{Attempts: 3, Delay: time.Second}, diag, nil)
	return s, blobs
}

func TestScannerCardsFound(t *testing.T) {
	t.Parallel()
	s, blobs := newScannerFixture(t, listingPage("", "/actuarial-jobs/1-a", "/actuarial-jobs/2-b"))
	s.sleep = func(context.Context, time.Duration) error {
		t.Fatal("no sleep expected when cards are present")
		return nil
	}

	cards, err := s.Cards(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, cards, 2)
	assert.Empty(t, blobs.Paths())
}

func TestScannerEmptyPageSnapshots(t *testing.T) {
	t.Parallel()
	s, blobs := newScannerFixture(t, listingPage(""))
	var sleeps []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	cards, err := s.Cards(context.Background(), 4)
	require.NoError(t, err)
	assert.Empty(t, cards)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeps)

	markup, ok := blobs.Object(SnapshotPath("diag", "run-1", 4))
	require.True(t, ok)
	assert.Contains(t, string(markup), `class="listing"`)
}

func TestScannerCardsCanceled(t *testing.T) {
	t.Parallel()
	s, _ := newScannerFixture(t, listingPage(""))
	s.sleep = func(context.Context, time.Duration) error {
		return context.Canceled
	}

	_, err := s.Cards(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// cancelingSurface cancels the crawl while a wait is in flight.
type cancelingSurface struct {
	browser.Surface
	cancel context.CancelFunc
}

func (s cancelingSurface) WaitUntil(context.Context, browser.Condition, time.Duration) bool {
	s.cancel()
	return false
}

func TestScannerCardsCanceledMidWait(t *testing.T) {
	t.Parallel()
	loader := browser.NewMapLoader().Set(testPage1, listingPage(""))
	static := browser.NewStatic(loader, testSelectors())
	require.NoError(t, static.Navigate(context.Background(), testPage1))

	ctx, cancel := context.WithCancel(context.Background())
	surface := cancelingSurface{Surface: static, cancel: cancel}
	blobs := memory.NewBlobStore()
	diag := NewDiagnostics(blobs, "diag", "run-1", surface, nil)
	s := NewScanner(surface, ScannerConfig{Attempts: 1}, diag, nil)

	cards, err := s.Cards(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, cards)
	assert.Empty(t, blobs.Paths(), "no snapshot for a canceled scan")
}

func TestScannerResolveLink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newScannerFixture(t, listingPage("",
		"/actuarial-jobs/101-acme",
		"https://other.example.test/actuarial-jobs/102-beta",
		"",
		"data:text/html,hello",
		"  ",
	))

	link, err := s.ResolveLink(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "https://jobs.example.test/actuarial-jobs/101-acme", link)

	link, err = s.ResolveLink(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.test/actuarial-jobs/102-beta", link)

	for _, idx := range []int{2, 3, 4} {
		_, err = s.ResolveLink(ctx, idx)
		assert.ErrorIs(t, err, ErrInvalidLink, "card %d", idx)
	}

	_, err = s.ResolveLink(ctx, 5)
	assert.ErrorIs(t, err, ErrCardOutOfRange)
	_, err = s.ResolveLink(ctx, -1)
	assert.ErrorIs(t, err, ErrCardOutOfRange)
}

func TestDiagnosticsNilStore(t *testing.T) {
	t.Parallel()
	var d *Diagnostics
	d.Snapshot(context.Background(), 1)

	d = NewDiagnostics(nil, "p", "r", nil, nil)
	d.Snapshot(context.Background(), 1)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestDiagnosticsWriteFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	loader := browser.NewMapLoader().Set(testPage1, listingPage(""))
	surface := browser.NewStatic(loader, testSelectors())
	require.NoError(t, surface.Navigate(context.Background(), testPage1))

	d := NewDiagnostics(failingBlobs{}, "p", "r", surface, nil)
	assert.NotPanics(t, func() { d.Snapshot(context.Background(), 1) })
}

func TestSnapshotPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "diag/run-9/page_source_page_12.html", SnapshotPath("diag", "run-9", 12))
	assert.Equal(t, "run-9/page_source_page_1.html", SnapshotPath("", "run-9", 1))
}
