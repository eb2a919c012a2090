package crawl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/browser"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/clock/system"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/extract"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/jobs"
	pubmemory "github.com/JakeFAU/actuary-jobs-crawler/internal/publisher/memory"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/storage/memory"
)

const testRunID = "run-0001"

type harness struct {
	loader    *browser.MapLoader
	surface   browser.Surface
	sink      *memory.PostingStore
	blobs     *memory.BlobStore
	publisher *pubmemory.Publisher
	runs      *memory.RunStore
	limiter   *countingLimiter
	tracer    trace.Tracer
	cfg       Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	loader := browser.NewMapLoader().
		Set(testRoot, `<html><body><p>welcome</p></body></html>`)
	return &harness{
		loader:    loader,
		surface:   browser.NewStatic(loader, testSelectors()),
		sink:      memory.NewPostingStore(),
		blobs:     memory.NewBlobStore(),
		publisher: pubmemory.New(),
		runs:      memory.NewRunStore(),
		limiter:   &countingLimiter{},
		cfg: Config{
			BaseURL:           testBase,
			MaxPages:          5,
			CardWaitAttempts:  2,
			DetailPathMarker:  extract.DefaultPathMarker,
			DiagnosticsPrefix: "diagnostics",
			Topic:             "postings",
		},
	}
}

func (h *harness) crawler(t *testing.T) *Crawler {
	t.Helper()
	clock := system.NewFixed(testNow)
	c, err := New(h.cfg, Deps{
		Surface:   h.surface,
		Extractor: extract.NewDetailExtractor(extract.Config{Selectors: testDetailSelectors()}, clock, nil),
		Sink:      h.sink,
		Blobs:     h.blobs,
		Publisher: h.publisher,
		Runs:      h.runs,
		Limiter:   h.limiter,
		IDs:       fixedIDs{id: testRunID},
		Clock:     clock,
		Tracer:    h.tracer,
	})
	require.NoError(t, err)
	return c
}

func TestRunCrawlsUntilEmptyPage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.loader.
		Set(testPage1, listingPage("?page=2", "/actuarial-jobs/101-acme", "/actuarial-jobs/102-beta", "/actuarial-jobs/103-gamma")).
		Set(testPage2, listingPage("")).
		Set(detailURL("101-acme"), detailPage("Pricing Actuary", "Acme", "Hartford")).
		Set(detailURL("102-beta"), detailPage("Valuation Actuary", "Beta", "Chicago")).
		Set(detailURL("103-gamma"), detailPage("Reserving Actuary", "Gamma", "Boston"))

	c := h.crawler(t)
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testRunID, res.RunID)
	assert.Equal(t, StateDone, res.FinalState)
	assert.Equal(t, StopEndOfData, res.StopReason)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Cards)
	assert.Equal(t, 3, res.Inserted)
	assert.Zero(t, res.Failed)

	postings := h.sink.Postings()
	require.Len(t, postings, 3)
	assert.Equal(t, "101", postings[0].JobID)
	assert.Equal(t, "Pricing Actuary", postings[0].Title)
	assert.Equal(t, "Hartford", postings[0].City)
	assert.Equal(t, []string{"Pricing", "Life"}, postings[0].Tags)
	assert.Equal(t, "2026-03-07", postings[0].PostedOnText())
	assert.Equal(t, "103", postings[2].JobID)
	assert.True(t, h.sink.Closed())

	_, ok := h.blobs.Object(SnapshotPath("diagnostics", testRunID, 2))
	assert.True(t, ok, "empty page should be snapshotted")

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 3)
	event, ok := msgs[0].Payload.(jobs.PostingEvent)
	require.True(t, ok)
	assert.Equal(t, testRunID, event.RunID)
	assert.Equal(t, "postings", msgs[0].Topic)

	summary, ok := h.runs.Run(testRunID)
	require.True(t, ok)
	assert.Equal(t, "done", summary.State)
	assert.Equal(t, string(StopEndOfData), summary.StopReason)
	assert.Equal(t, 3, summary.Inserted)

	snap := c.Snapshot()
	assert.Equal(t, StateDone, snap.State)
	assert.Equal(t, 2, snap.Page)
	assert.Positive(t, h.limiter.count())
}

func TestRunIsolatesCardFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.loader.
		Set(testPage1, listingPage("", "/actuarial-jobs/101-acme", "/actuarial-jobs/102-beta", "/actuarial-jobs/103-gamma")).
		Set(detailURL("101-acme"), detailPage("Pricing Actuary", "Acme", "Hartford")).
		Set(detailURL("103-gamma"), detailPage("Reserving Actuary", "Gamma", "Boston"))

	res, err := h.crawler(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopNoNextPage, res.StopReason)
	assert.Equal(t, 3, res.Cards)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Failed)

	postings := h.sink.Postings()
	require.Len(t, postings, 2)
	assert.Equal(t, "101", postings[0].JobID)
	assert.Equal(t, "103", postings[1].JobID)
}

func TestRunSkipsCardsWithoutLinks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.loader.
		Set(testPage1, listingPage("", "", "data:text/html,boom", "/actuarial-jobs/101-acme")).
		Set(detailURL("101-acme"), detailPage("Pricing Actuary", "Acme", "Hartford"))

	res, err := h.crawler(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Inserted)
}

func TestRunCountsDuplicates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.loader.
		Set(testPage1, listingPage("", "/actuarial-jobs/101-acme", "/actuarial-jobs/101-acme")).
		Set(detailURL("101-acme"), detailPage("Pricing Actuary", "Acme", "Hartford"))

	res, err := h.crawler(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)
	assert.Len(t, h.sink.Postings(), 1)
	assert.Len(t, h.publisher.Messages(), 1, "duplicates are not published")
}

func TestRunContinuesPastStorageAndPublishErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.loader.
		Set(testPage1, listingPage("", "/actuarial-jobs/101-acme")).
		Set(detailURL("101-acme"), detailPage("Pricing Actuary", "Acme", "Hartford"))
	h.sink.FailWith(errors.New("connection refused"))

	res, err := h.crawler(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.FinalState)
	assert.Equal(t, 1, res.Failed)

	h2 := newHarness(t)
	h2.loader.
		Set(testPage1, listingPage("", "/actuarial-jobs/101-acme")).
		Set(detailURL("101-acme"), detailPage("Pricing Actuary", "Acme", "Hartford"))
	h2.publisher.FailWith(errors.New("topic not found"))

	res, err = h2.crawler(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Len(t, h2.sink.Postings(), 1)
}

func TestRunStopsAtPageCeiling(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.cfg.MaxPages = 1
	h.loader.
		Set(testPage1, listingPage("?page=2", "/actuarial-jobs/101-acme")).
		Set(testPage2, listingPage("", "/actuarial-jobs/102-beta")).
		Set(detailURL("101-acme"), detailPage("Pricing Actuary", "Acme", "Hartford"))

	res, err := h.crawler(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopMaxPages, res.StopReason)
	assert.Equal(t, 1, res.Pages)
	assert.NotContains(t, h.loader.Visits(), testPage2)
}

func TestRunFaultsWhenRootUnreachable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.loader.Fail(testRoot, errors.New("dns failure"))

	res, err := h.crawler(t).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSetup)
	assert.Equal(t, StateFaulted, res.FinalState)
	assert.Equal(t, StopSetup, res.StopReason)
	assert.True(t, h.sink.Closed())

	summary, ok := h.runs.Run(testRunID)
	require.True(t, ok)
	assert.Equal(t, "faulted", summary.State)
	assert.NotEmpty(t, summary.Error)
}

func TestRunFaultsWhenFirstListingUnreachable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res, err := h.crawler(t).Run(context.Background())
	assert.ErrorIs(t, err, ErrSetup)
	assert.Equal(t, StateFaulted, res.FinalState)
}

func TestRunFaultsWithoutRunID(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	clock := system.NewFixed(testNow)
	c, err := New(h.cfg, Deps{
		Surface:   h.surface,
		Extractor: extract.NewDetailExtractor(extract.Config{}, clock, nil),
		Sink:      h.sink,
		IDs:       fixedIDs{err: errors.New("entropy exhausted")},
		Clock:     clock,
	})
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrSetup)
	assert.Equal(t, StateFaulted, res.FinalState)
	assert.True(t, h.sink.Closed())
}

func TestRunTearsDownOnCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ws := &windowedSurface{Surface: h.surface}
	h.surface = ws

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.crawler(t).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrSetup)
	assert.Equal(t, StopCanceled, res.StopReason)
	assert.True(t, ws.quit)
	assert.True(t, h.sink.Closed())
}

func TestRunCanceledDuringCardWait(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.cfg.CardWaitAttempts = 1
	h.loader.Set(testPage1, listingPage("", "/actuarial-jobs/101-acme"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.surface = listingCancelSurface{Surface: h.surface, cancel: cancel}

	res, err := h.crawler(t).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateDone, res.FinalState)
	assert.Equal(t, StopCanceled, res.StopReason)
	assert.Zero(t, res.Cards)
	assert.Empty(t, h.blobs.Paths(), "a canceled scan is not an empty page")
	assert.True(t, h.sink.Closed())
}

func TestRunSuppressesPopupOnRoot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.cfg.PopupStorageKey = "showPopupForm"
	h.cfg.PopupStorageValue = "false"
	h.loader.
		Set(testPage1, listingPage("", "/actuarial-jobs/101-acme")).
		Set(detailURL("101-acme"), detailPage("Pricing Actuary", "Acme", "Hartford"))
	ss := &storageSurface{Surface: h.surface}
	h.surface = ss

	res, err := h.crawler(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, []storageWrite{{key: "showPopupForm", value: "false", url: testRoot}}, ss.writes)
}

func TestRunContinuesWhenPopupSuppressionFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.cfg.PopupStorageKey = "showPopupForm"
	h.loader.
		Set(testPage1, listingPage("", "/actuarial-jobs/101-acme")).
		Set(detailURL("101-acme"), detailPage("Pricing Actuary", "Acme", "Hartford"))
	ss := &storageSurface{Surface: h.surface, err: errors.New("evaluate failed")}
	h.surface = ss

	res, err := h.crawler(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Len(t, ss.writes, 1)
}

func TestRunSkipsPopupSuppressionWithoutKey(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.loader.Set(testPage1, listingPage(""))
	ss := &storageSurface{Surface: h.surface}
	h.surface = ss

	_, err := h.crawler(t).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ss.writes)
}

func TestRunClosesStrayWindows(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.loader.
		Set(testPage1, listingPage("", "/actuarial-jobs/101-acme")).
		Set(detailURL("101-acme"), detailPage("Pricing Actuary", "Acme", "Hartford"))
	ws := &windowedSurface{Surface: h.surface, extra: []browser.WindowHandle{"ad-popup"}}
	h.surface = ws

	res, err := h.crawler(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, []browser.WindowHandle{"ad-popup"}, ws.closed)
	assert.True(t, ws.quit)
}

func TestRunEmitsSpans(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.loader.
		Set(testPage1, listingPage("", "/actuarial-jobs/101-acme", "/actuarial-jobs/102-beta")).
		Set(detailURL("101-acme"), detailPage("Pricing Actuary", "Acme", "Hartford"))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	h.tracer = tp.Tracer("crawl-test")

	_, err := h.crawler(t).Run(context.Background())
	require.NoError(t, err)

	names := map[string]int{}
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	assert.Equal(t, 1, names["crawl.run"])
	assert.Equal(t, 2, names["crawl.card"])
}

func TestEnsureListingReNavigatesAfterDrift(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.loader.
		Set(testPage1, listingPage("")).
		Set(detailURL("101-acme"), detailPage("Pricing Actuary", "Acme", "Hartford"))
	c := h.crawler(t)
	pager, err := NewPager(testBase, 3, h.surface, PagerConfig{}, nil)
	require.NoError(t, err)

	require.NoError(t, h.surface.Navigate(ctx, detailURL("101-acme")))
	c.ensureListing(ctx, pager, c.logger)
	current, err := h.surface.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, testPage1, current)

	before := len(h.loader.Visits())
	c.ensureListing(ctx, pager, c.logger)
	assert.Len(t, h.loader.Visits(), before, "no navigation when already on the listing")
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	clock := system.NewFixed(testNow)
	base := Deps{
		Surface:   h.surface,
		Extractor: extract.NewDetailExtractor(extract.Config{}, clock, nil),
		Sink:      h.sink,
		IDs:       fixedIDs{id: "x"},
		Clock:     clock,
	}

	_, err := New(h.cfg, base)
	require.NoError(t, err)

	missing := base
	missing.Sink = nil
	_, err = New(h.cfg, missing)
	assert.Error(t, err)

	cfg := h.cfg
	cfg.BaseURL = "/relative"
	_, err = New(cfg, base)
	assert.Error(t, err)

	cfg = h.cfg
	cfg.MaxPages = 0
	_, err = New(cfg, base)
	assert.Error(t, err)

	cfg = h.cfg
	cfg.DetailPathMarker = ""
	_, err = New(cfg, base)
	assert.Error(t, err)
}

func TestRootURL(t *testing.T) {
	t.Parallel()
	root, err := rootURL("https://www.actuarylist.com/?page=3")
	require.NoError(t, err)
	assert.Equal(t, "https://www.actuarylist.com/", root)

	_, err = rootURL("not a url")
	assert.Error(t, err)
}
