// Package server builds the crawl pipeline from configuration and runs it
// beside the ops HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/api"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/browser"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/clock/system"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/config"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/crawl"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/extract"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/hash/sha256"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/id/uuid"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/jobs"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/policy/robots"
	gcppublisher "github.com/JakeFAU/actuary-jobs-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/actuary-jobs-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/actuary-jobs-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/actuary-jobs-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/actuary-jobs-crawler/internal/storage/postgres"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// runLedger is both sides of the run ledger.
type runLedger interface {
	jobs.RunRecorder
	jobs.RunReader
}

// App contains the process-wide resources of one crawl invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	crawler      *crawl.Crawler
	apiServer    *api.Server
	sink         jobs.Sink
	runs         runLedger
	blobs        jobs.BlobStore
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
	tracer       *sdktrace.TracerProvider
}

// Build creates every dependency of the crawl. On error, whatever was
// already opened is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.WithoutCancel(ctx))
			if app.sink != nil {
				_ = app.sink.Close()
			}
		}
	}()

	app.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.DefaultServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	app.logger.Info("building crawl dependencies",
		zap.String("base_url", cfg.Crawler.BaseURL),
		zap.String("browser", cfg.Browser.Mode),
		zap.String("db", cfg.DB.Driver),
		zap.String("storage", cfg.Storage.Backend),
	)
	if err = app.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err = app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	extractor := extract.NewDetailExtractor(extract.Config{
		Selectors:      cfg.Selectors.Detail,
		PathMarker:     cfg.Crawler.DetailPathMarker,
		DefaultJobType: jobs.JobType(cfg.Crawler.JobTypeDefault),
	}, clock, logger.Named("extract"))

	// The surface comes last: a Chrome process is the costliest thing to
	// leak when a later step fails.
	surface, err := app.setupSurface(ctx)
	if err != nil {
		return nil, err
	}

	app.crawler, err = crawl.New(crawlConfig(cfg), crawl.Deps{
		Surface:   surface,
		Extractor: extractor,
		Sink:      app.sink,
		Blobs:     app.blobs,
		Publisher: publisher,
		Runs:      app.runs,
		Limiter:   app.navigationLimiter(),
		IDs:       uuid.New(),
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		_ = surface.Quit(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("crawler init failed: %w", err)
	}

	if cfg.Server.Addr != "" {
		app.apiServer = api.NewServer(app.crawler, app.runs, logger.Named("api"))
	}
	return app, nil
}

// navigationLimiter throttles navigations. Chrome does not read robots.txt,
// so the chromedp surface gets a robots gate in front of the throttle.
func (a *App) navigationLimiter() crawl.Limiter {
	throttle := ratelimit.New(ratelimit.Config{QPS: a.cfg.Crawler.NavigationQPS, Burst: 1})
	if a.cfg.Browser.Mode == config.BrowserChromedp && a.cfg.Browser.RespectRobots {
		return robots.New(throttle, a.cfg.Browser.UserAgent, a.logger.Named("robots"))
	}
	return throttle
}

func crawlConfig(cfg config.Config) crawl.Config {
	c := cfg.Crawler
	return crawl.Config{
		BaseURL:            c.BaseURL,
		MaxPages:           c.MaxPages,
		CardWaitAttempts:   c.CardWaitAttempts,
		CardWaitDelay:      c.CardWaitDelay,
		CardWaitTimeout:    c.CardWaitTimeout,
		DetailLoadTimeout:  c.DetailLoadTimeout,
		PageLoadTimeout:    c.PageLoadTimeout,
		PopupTimeout:       c.PopupTimeout,
		NextTimeout:        c.NextTimeout,
		ListingSettleDelay: c.ListingSettleDelay,
		AdvanceSettleDelay: c.AdvanceSettleDelay,
		DetailPathMarker:   c.DetailPathMarker,
		DiagnosticsPrefix:  cfg.Storage.Prefix,
		Topic:              cfg.PubSub.TopicName,
		PopupStorageKey:    c.PopupStorageKey,
		PopupStorageValue:  c.PopupStorageValue,
	}
}

// Run crawls once. The ops server, when configured, serves until the crawl
// returns. Every resource is released before Run returns.
func (a *App) Run(ctx context.Context) (crawl.Result, error) {
	var srv *http.Server
	if a.apiServer != nil {
		srv = a.apiServer.HTTPServer(a.cfg.Server.Addr)
		go func() {
			a.logger.Info("ops server started", zap.String("addr", a.cfg.Server.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("ops server error", zap.Error(err))
			}
		}()
	}

	res, err := a.crawler.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.logger.Error("ops server shutdown error", zap.Error(serr))
		}
	}
	a.Close(shutdownCtx)
	return res, err
}

// Close releases the clients that outlive the crawl itself. The surface and
// the sink are released by the crawler's teardown.
func (a *App) Close(ctx context.Context) {
	a.closeInfrastructure(ctx)
	// Sync fails on non-file sinks such as a terminal.
	_ = a.logger.Sync()
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracer = nil
	}
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS diagnostics backend", zap.String("bucket", a.cfg.Storage.Bucket))
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case config.StorageLocal:
		a.logger.Info("using local diagnostics backend", zap.String("path", a.cfg.Storage.BaseDir))
		a.blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
	default:
		a.logger.Info("using in-memory diagnostics backend")
		a.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	hasher := sha256.New()
	if a.cfg.DB.Driver == config.DBMemory {
		a.logger.Warn("using in-memory posting store; postings are lost on exit")
		a.sink = memorystorage.NewPostingStoreWithHasher(hasher)
		a.runs = memorystorage.NewRunStore()
		return nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	// The job store owns the pool from here on; closing the sink closes it.
	jobStore, err := pgstore.NewJobStoreWithPool(pool, a.cfg.DB.Table, hasher)
	if err != nil {
		pool.Close()
		return fmt.Errorf("job store init failed: %w", err)
	}
	a.sink = jobStore
	runStore, err := pgstore.NewRunStoreWithPool(pool, a.cfg.DB.RunTable)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.runs = runStore
	a.logger.Info("postgres stores initialized",
		zap.String("table", a.cfg.DB.Table),
		zap.String("run_table", a.cfg.DB.RunTable),
	)
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (jobs.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, new postings are not published")
		return nil, nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher = gcppublisher.New(a.pubsubClient)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.publisher, nil
}

func (a *App) setupSurface(ctx context.Context) (browser.Surface, error) {
	sel := a.cfg.Selectors.Listing
	if a.cfg.Browser.Mode == config.BrowserStatic {
		a.logger.Info("using static surface", zap.Bool("respect_robots", a.cfg.Browser.RespectRobots))
		loader := browser.NewCollyLoader(browser.CollyConfig{
			UserAgent:     a.cfg.Browser.UserAgent,
			RespectRobots: a.cfg.Browser.RespectRobots,
			Timeout:       a.cfg.Crawler.PageLoadTimeout,
		})
		return browser.NewStatic(loader, sel), nil
	}
	a.logger.Info("launching headless Chrome", zap.Bool("headless", a.cfg.Browser.Headless))
	surface, err := browser.NewChromedp(ctx, browser.ChromedpConfig{
		Headless:          a.cfg.Browser.Headless,
		UserAgent:         a.cfg.Browser.UserAgent,
		NavigationTimeout: a.cfg.Crawler.PageLoadTimeout,
	}, sel)
	if err != nil {
		return nil, fmt.Errorf("chrome init failed: %w", err)
	}
	return surface, nil
}
