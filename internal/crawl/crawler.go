package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/browser"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/jobs"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/metrics"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/retry"
)

const tracerName = "github.com/JakeFAU/actuary-jobs-crawler/internal/crawl"

const (
	defaultTeardownTimeout = 30 * time.Second
	popupAttempts          = 2
)

// Config holds the settings for one crawl. It is decoupled from Viper so
// the crawler can be driven directly in tests.
type Config struct {
	BaseURL            string
	MaxPages           int
	CardWaitAttempts   int
	CardWaitDelay      time.Duration
	CardWaitTimeout    time.Duration
	DetailLoadTimeout  time.Duration
	PageLoadTimeout    time.Duration
	PopupTimeout       time.Duration
	NextTimeout        time.Duration
	ListingSettleDelay time.Duration
	AdvanceSettleDelay time.Duration
	DetailPathMarker   string
	// DiagnosticsPrefix is prepended to snapshot paths.
	DiagnosticsPrefix string
	// Topic receives a PostingEvent per inserted posting when a publisher
	// is configured.
	Topic           string
	TeardownTimeout time.Duration
	// PopupStorageKey, when set, is written to localStorage on the site root
	// with PopupStorageValue to keep the first-visit modal from opening.
	PopupStorageKey   string
	PopupStorageValue string
}

// Extractor turns detail markup into a posting.
type Extractor interface {
	Extract(markup, sourceURL string) (jobs.JobPosting, error)
}

// Limiter paces navigations.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Deps are the collaborators a Crawler drives. Blobs, Publisher, Runs and
// Limiter are optional.
type Deps struct {
	Surface   browser.Surface
	Extractor Extractor
	Sink      jobs.Sink
	Blobs     jobs.BlobStore
	Publisher jobs.Publisher
	Runs      jobs.RunRecorder
	Limiter   Limiter
	IDs       jobs.IDGenerator
	Clock     jobs.Clock
	Logger    *zap.Logger
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

// Result summarizes a finished run.
type Result struct {
	RunID      string
	FinalState State
	StopReason StopReason
	StartedAt  time.Time
	FinishedAt time.Time
	Pages      int
	Cards      int
	Inserted   int
	Duplicates int
	Failed     int
	Skipped    int
}

// Snapshot is the live position of a run, safe to read from other
// goroutines.
type Snapshot struct {
	RunID string
	State State
	Page  int
}

// Crawler owns the surface and the sink for the duration of Run and
// releases both when Run returns.
type Crawler struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	snapshot Snapshot
}

// New validates the wiring and returns a Crawler ready to Run once.
func New(cfg Config, deps Deps) (*Crawler, error) {
	switch {
	case deps.Surface == nil:
		return nil, errors.New("surface is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Sink == nil:
		return nil, errors.New("sink is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if cfg.DetailPathMarker == "" {
		return nil, errors.New("detail path marker is required")
	}
	if cfg.MaxPages < 1 {
		return nil, fmt.Errorf("max pages must be >= 1, got %d", cfg.MaxPages)
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = defaultTeardownTimeout
	}
	if _, err := rootURL(cfg.BaseURL); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Crawler{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("crawl"),
		tracer: tracer,
		sleep:  retry.Sleep,
	}, nil
}

// Snapshot returns the current run position.
func (c *Crawler) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Run crawls until the listing runs out, the page ceiling is hit, the
// "Next" control disappears, or ctx ends. It returns an error only when
// setup faulted (wrapping ErrSetup) or the run was canceled. Teardown
// always runs, even after cancellation.
func (c *Crawler) Run(ctx context.Context) (res Result, err error) {
	ctx, span := c.tracer.Start(ctx, "crawl.run", trace.WithAttributes(attribute.String("crawl.base_url", c.cfg.BaseURL)))
	defer span.End()

	res.StartedAt = c.deps.Clock.Now()
	log := c.logger
	defer func() {
		res.FinalState = c.Snapshot().State
		res.FinishedAt = c.deps.Clock.Now()
		c.teardown(ctx, res, err, log)
		span.SetAttributes(
			attribute.String("crawl.state", res.FinalState.String()),
			attribute.String("crawl.stop_reason", string(res.StopReason)),
			attribute.Int("crawl.pages", res.Pages),
			attribute.Int("crawl.inserted", res.Inserted),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	runID, err := c.deps.IDs.NewID()
	if err != nil {
		c.setSnapshot(Snapshot{State: StateFaulted})
		res.StopReason = StopSetup
		return res, fmt.Errorf("%w: generate run id: %w", ErrSetup, err)
	}
	res.RunID = runID
	span.SetAttributes(attribute.String("crawl.run_id", runID))
	log = c.logger.With(zap.String("run_id", runID))
	c.setSnapshot(Snapshot{RunID: runID, State: StateIdle})

	diag := NewDiagnostics(c.deps.Blobs, c.cfg.DiagnosticsPrefix, runID, c.deps.Surface, log)
	scanner := NewScanner(c.deps.Surface, ScannerConfig{
		Attempts:       c.cfg.CardWaitAttempts,
		Delay:          c.cfg.CardWaitDelay,
		ListingTimeout: c.cfg.CardWaitTimeout,
	}, diag, log)
	scanner.sleep = c.sleep
	pager, err := NewPager(c.cfg.BaseURL, c.cfg.MaxPages, c.deps.Surface, PagerConfig{
		NextTimeout:    c.cfg.NextTimeout,
		ListingTimeout: c.cfg.PageLoadTimeout,
		SettleDelay:    c.cfg.AdvanceSettleDelay,
	}, log)
	if err != nil {
		c.setSnapshot(Snapshot{RunID: runID, State: StateFaulted})
		res.StopReason = StopSetup
		return res, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	pager.sleep = c.sleep

	c.recordStart(ctx, res, log)
	c.transition(StateBootstrapping, pager)
	if err := c.bootstrap(ctx, pager, log); err != nil {
		if ctx.Err() != nil {
			return c.canceled(ctx, &res, pager)
		}
		c.transition(StateFaulted, pager)
		res.StopReason = StopSetup
		log.Error("crawl setup failed", zap.Error(err))
		return res, fmt.Errorf("%w: %w", ErrSetup, err)
	}

	for {
		c.transition(StateListingPage, pager)
		res.Pages++
		metrics.ObserveListingPage(c.cfg.BaseURL)
		c.ensureListing(ctx, pager, log)

		cards, err := scanner.Cards(ctx, pager.Current())
		if err != nil {
			return c.canceled(ctx, &res, pager)
		}
		if len(cards) == 0 {
			res.StopReason = StopEndOfData
			break
		}
		log.Info("scanning listing page", zap.Int("page", pager.Current()), zap.Int("cards", len(cards)))

		for i := range cards {
			if ctx.Err() != nil {
				return c.canceled(ctx, &res, pager)
			}
			c.transition(StateProcessingCard, pager)
			res.Cards++
			c.tally(&res, c.processCard(ctx, scanner, pager, i, runID, log))
		}

		c.transition(StateAdvancing, pager)
		if pager.AtCeiling() {
			res.StopReason = StopMaxPages
			break
		}
		if !pager.Advance(ctx) {
			if ctx.Err() != nil {
				return c.canceled(ctx, &res, pager)
			}
			res.StopReason = StopNoNextPage
			break
		}
	}

	c.transition(StateDone, pager)
	return res, nil
}

type cardOutcome int

const (
	cardInserted cardOutcome = iota
	cardDuplicate
	cardFailed
	cardSkipped
)

func (c *Crawler) tally(res *Result, outcome cardOutcome) {
	switch outcome {
	case cardInserted:
		res.Inserted++
		metrics.ObserveCard(metrics.CardInserted)
	case cardDuplicate:
		res.Duplicates++
		metrics.ObserveCard(metrics.CardDuplicate)
	case cardFailed:
		res.Failed++
		metrics.ObserveCard(metrics.CardFailed)
	case cardSkipped:
		res.Skipped++
		metrics.ObserveCard(metrics.CardSkipped)
	}
}

// processCard handles one card end to end. It never returns an error: every
// failure is logged and the surface is put back on the listing page.
func (c *Crawler) processCard(
	ctx context.Context,
	scanner *Scanner,
	pager *Pager,
	index int,
	runID string,
	log *zap.Logger,
) cardOutcome {
	log = log.With(zap.Int("page", pager.Current()), zap.Int("card", index+1))
	ctx, span := c.tracer.Start(ctx, "crawl.card", trace.WithAttributes(
		attribute.Int("crawl.page", pager.Current()),
		attribute.Int("crawl.card", index+1),
	))
	defer span.End()

	link, err := scanner.ResolveLink(ctx, index)
	if errors.Is(err, ErrCardOutOfRange) || errors.Is(err, ErrInvalidLink) {
		log.Info("skipping card", zap.Error(err))
		return cardSkipped
	}
	if err != nil {
		log.Warn("resolve card link failed", zap.Error(err))
		span.RecordError(err)
		c.recover(ctx, pager, log)
		return cardFailed
	}
	span.SetAttributes(attribute.String("crawl.detail_url", link))
	log = log.With(zap.String("url", link))

	start := time.Now()
	posting, err := c.loadDetail(ctx, link)
	if err != nil {
		log.Warn("detail page failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "detail page failed")
		c.recover(ctx, pager, log)
		return cardFailed
	}
	metrics.ObserveDetail(time.Since(start))
	log = log.With(zap.String("job_id", posting.JobID))

	outcome := cardFailed
	stored, err := c.deps.Sink.Upsert(ctx, posting)
	switch {
	case err != nil:
		log.Error("store posting failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "store posting failed")
	case stored == jobs.OutcomeDuplicate:
		log.Debug("posting already stored")
		outcome = cardDuplicate
	default:
		log.Info("stored posting", zap.String("title", posting.Title))
		outcome = cardInserted
		c.publish(ctx, runID, posting, log)
	}

	if err := c.returnToListing(ctx, pager); err != nil {
		log.Warn("return to listing failed", zap.Error(err))
		c.closeExtraWindows(ctx, log)
	}
	return outcome
}

func (c *Crawler) loadDetail(ctx context.Context, link string) (jobs.JobPosting, error) {
	surface := c.deps.Surface
	if err := c.navigate(ctx, link); err != nil {
		return jobs.JobPosting{}, err
	}
	if !surface.WaitUntil(ctx, browser.URLContains(c.cfg.DetailPathMarker), c.cfg.DetailLoadTimeout) {
		return jobs.JobPosting{}, fmt.Errorf("%w: %s", ErrDetailNotLoaded, link)
	}
	c.closeExtraWindows(ctx, c.logger)

	markup, err := surface.PageMarkup(ctx)
	if err != nil {
		return jobs.JobPosting{}, fmt.Errorf("read detail markup: %w", err)
	}
	source := link
	if current, err := surface.CurrentURL(ctx); err == nil && current != "" {
		source = current
	}
	posting, err := c.deps.Extractor.Extract(markup, source)
	if err != nil {
		return jobs.JobPosting{}, fmt.Errorf("extract posting: %w", err)
	}
	return posting, nil
}

func (c *Crawler) publish(ctx context.Context, runID string, posting jobs.JobPosting, log *zap.Logger) {
	if c.deps.Publisher == nil || c.cfg.Topic == "" {
		return
	}
	event := jobs.PostingEvent{RunID: runID, ObservedAt: c.deps.Clock.Now(), Posting: posting}
	if _, err := c.deps.Publisher.Publish(ctx, c.cfg.Topic, event); err != nil {
		metrics.ObservePublishFailure()
		log.Warn("publish posting event failed", zap.Error(err))
	}
}

func (c *Crawler) bootstrap(ctx context.Context, pager *Pager, log *zap.Logger) error {
	root, err := rootURL(c.cfg.BaseURL)
	if err != nil {
		return err
	}
	if err := c.navigate(ctx, root); err != nil {
		return fmt.Errorf("open site root: %w", err)
	}
	if !c.deps.Surface.WaitUntil(ctx, browser.ElementPresent(browser.MarkerBody), c.cfg.PageLoadTimeout) {
		return fmt.Errorf("site root %s never rendered a body", root)
	}
	c.suppressPopup(ctx, log)
	c.dismissPopup(ctx, log)
	if err := c.navigate(ctx, pager.URL(1)); err != nil {
		return fmt.Errorf("open first listing page: %w", err)
	}
	return nil
}

// suppressPopup sets the site's "popup seen" flag. Failure only means the
// modal may still appear for dismissPopup to close.
func (c *Crawler) suppressPopup(ctx context.Context, log *zap.Logger) {
	key := c.cfg.PopupStorageKey
	if key == "" {
		return
	}
	if err := c.deps.Surface.SetLocalStorage(ctx, key, c.cfg.PopupStorageValue); err != nil {
		log.Warn("popup suppression failed", zap.String("key", key), zap.Error(err))
		return
	}
	if !c.deps.Surface.WaitUntil(ctx, browser.ElementPresent(browser.MarkerBody), c.cfg.PageLoadTimeout) {
		log.Warn("site root did not re-render after popup suppression")
	}
}

// dismissPopup closes the site's first-visit modal when one shows up.
func (c *Crawler) dismissPopup(ctx context.Context, log *zap.Logger) {
	surface := c.deps.Surface
	policy := retry.Bounded{Attempts: popupAttempts, Sleep: c.sleep}
	err := policy.Do(ctx, func(ctx context.Context, _ int) bool {
		if !surface.WaitUntil(ctx, browser.ElementClickable(browser.MarkerPopupClose), c.cfg.PopupTimeout) {
			return false
		}
		buttons, err := surface.FindAll(ctx, browser.MarkerPopupClose)
		if err != nil || len(buttons) == 0 {
			return false
		}
		return surface.Click(ctx, buttons[0]) == nil
	})
	if err != nil {
		log.Debug("no popup dismissed", zap.Error(err))
		return
	}
	log.Info("dismissed popup")
}

// ensureListing re-navigates when the surface drifted off the current
// listing page. A failed navigation surfaces later as an empty scan.
func (c *Crawler) ensureListing(ctx context.Context, pager *Pager, log *zap.Logger) {
	current, err := c.deps.Surface.CurrentURL(ctx)
	if err == nil && pager.Matches(current) {
		return
	}
	target := pager.URL(pager.Current())
	log.Info("re-navigating to listing page", zap.String("from", current), zap.String("to", target))
	if err := c.navigate(ctx, target); err != nil {
		log.Warn("listing navigation failed", zap.Error(err))
	}
}

func (c *Crawler) returnToListing(ctx context.Context, pager *Pager) error {
	target := pager.URL(pager.Current())
	if err := c.navigate(ctx, target); err != nil {
		return err
	}
	if !c.deps.Surface.WaitUntil(ctx, browser.ElementPresent(browser.MarkerListing), c.cfg.PageLoadTimeout) {
		return fmt.Errorf("listing %s did not render", target)
	}
	return c.sleep(ctx, c.cfg.ListingSettleDelay)
}

// recover restores the listing after a failed card.
func (c *Crawler) recover(ctx context.Context, pager *Pager, log *zap.Logger) {
	c.closeExtraWindows(ctx, log)
	if err := c.returnToListing(ctx, pager); err != nil {
		log.Warn("recover listing failed", zap.Error(err))
	}
}

func (c *Crawler) navigate(ctx context.Context, target string) error {
	if c.deps.Limiter != nil {
		if err := c.deps.Limiter.Wait(ctx, target); err != nil {
			return err
		}
	}
	if err := c.deps.Surface.Navigate(ctx, target); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// closeExtraWindows closes every window but the primary one.
func (c *Crawler) closeExtraWindows(ctx context.Context, log *zap.Logger) {
	windows, err := c.deps.Surface.OpenWindows(ctx)
	if err != nil {
		log.Debug("list windows failed", zap.Error(err))
		return
	}
	for _, w := range windows[min(1, len(windows)):] {
		if err := c.deps.Surface.CloseWindow(ctx, w); err != nil {
			log.Warn("close window failed", zap.String("window", string(w)), zap.Error(err))
		}
	}
}

func (c *Crawler) canceled(ctx context.Context, res *Result, pager *Pager) (Result, error) {
	c.transition(StateDone, pager)
	res.StopReason = StopCanceled
	return *res, fmt.Errorf("crawl canceled: %w", ctx.Err())
}

// teardown is the single exit point. It runs on a detached context so that
// cancellation of the run still releases the browser and the sink.
func (c *Crawler) teardown(parent context.Context, res Result, runErr error, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.cfg.TeardownTimeout)
	defer cancel()

	c.closeExtraWindows(ctx, log)
	if err := c.deps.Surface.Quit(ctx); err != nil {
		log.Warn("quit surface failed", zap.Error(err))
	}
	c.recordFinish(ctx, res, runErr, log)
	if err := c.deps.Sink.Close(); err != nil {
		log.Warn("close sink failed", zap.Error(err))
	}

	metrics.ObserveRun(res.FinalState.String(), string(res.StopReason))
	log.Info("crawl finished",
		zap.String("state", res.FinalState.String()),
		zap.String("reason", string(res.StopReason)),
		zap.Int("pages", res.Pages),
		zap.Int("cards", res.Cards),
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
}

func (c *Crawler) recordStart(ctx context.Context, res Result, log *zap.Logger) {
	if c.deps.Runs == nil {
		return
	}
	if err := c.deps.Runs.StartRun(ctx, res.RunID, res.StartedAt); err != nil {
		log.Warn("record run start failed", zap.Error(err))
	}
}

func (c *Crawler) recordFinish(ctx context.Context, res Result, runErr error, log *zap.Logger) {
	if c.deps.Runs == nil || res.RunID == "" {
		return
	}
	summary := jobs.RunSummary{
		RunID:      res.RunID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		State:      res.FinalState.String(),
		StopReason: string(res.StopReason),
		Pages:      res.Pages,
		Cards:      res.Cards,
		Inserted:   res.Inserted,
		Duplicates: res.Duplicates,
		Failed:     res.Failed,
		Skipped:    res.Skipped,
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	if err := c.deps.Runs.FinishRun(ctx, summary); err != nil {
		log.Warn("record run finish failed", zap.Error(err))
	}
}

func (c *Crawler) transition(s State, pager *Pager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot.State = s
	c.snapshot.Page = pager.Current()
}

func (c *Crawler) setSnapshot(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = s
}

// rootURL is scheme://host/ of the listing URL; the first visit goes there.
func rootURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", baseURL)
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}).String(), nil
}
