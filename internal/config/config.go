// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/browser"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/extract"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/jobs"
)

// MaxPagesCeiling is the hard bound on crawler.max_pages.
const MaxPagesCeiling = 100

// EnvPrefix namespaces environment overrides, e.g. JOBCRAWLER_DB_DSN.
const EnvPrefix = "JOBCRAWLER"

// Browser modes.
const (
	BrowserChromedp = "chromedp"
	BrowserStatic   = "static"
)

// Storage backends for diagnostics.
const (
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageMemory = "memory"
)

// Database drivers.
const (
	DBPostgres = "postgres"
	DBMemory   = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Selectors SelectorsConfig `mapstructure:"selectors"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CrawlerConfig governs the crawl loop.
type CrawlerConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	MaxPages           int           `mapstructure:"max_pages"`
	CardWaitAttempts   int           `mapstructure:"card_wait_attempts"`
	CardWaitDelay      time.Duration `mapstructure:"card_wait_delay"`
	CardWaitTimeout    time.Duration `mapstructure:"card_wait_timeout"`
	DetailLoadTimeout  time.Duration `mapstructure:"detail_load_timeout"`
	PageLoadTimeout    time.Duration `mapstructure:"page_load_timeout"`
	PopupTimeout       time.Duration `mapstructure:"popup_timeout"`
	PopupStorageKey    string        `mapstructure:"popup_storage_key"`
	PopupStorageValue  string        `mapstructure:"popup_storage_value"`
	NextTimeout        time.Duration `mapstructure:"next_timeout"`
	ListingSettleDelay time.Duration `mapstructure:"listing_settle_delay"`
	AdvanceSettleDelay time.Duration `mapstructure:"advance_settle_delay"`
	NavigationQPS      float64       `mapstructure:"navigation_qps"`
	DetailPathMarker   string        `mapstructure:"detail_path_marker"`
	JobTypeDefault     string        `mapstructure:"job_type_default"`
}

// BrowserConfig selects and tunes the rendering surface.
type BrowserConfig struct {
	Mode          string `mapstructure:"mode"`
	Headless      bool   `mapstructure:"headless"`
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
}

// SelectorsConfig holds the page selectors for listing and detail pages.
type SelectorsConfig struct {
	Listing browser.Selectors `mapstructure:"listing"`
	Detail  extract.Selectors `mapstructure:"detail"`
}

// StorageConfig sets where diagnostic snapshots go.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	RunTable string `mapstructure:"run_table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for new-posting notifications. An empty
// topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the ops HTTP server. An empty address disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level overrides the mode's default minimum level when set.
	Level string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key needs a default, even an empty one, so that Unmarshal sees
// environment overrides for it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.base_url", "https://www.actuarylist.com")
	v.SetDefault("crawler.max_pages", 5)
	v.SetDefault("crawler.card_wait_attempts", 3)
	v.SetDefault("crawler.card_wait_delay", 5*time.Second)
	v.SetDefault("crawler.card_wait_timeout", 10*time.Second)
	v.SetDefault("crawler.detail_load_timeout", 20*time.Second)
	v.SetDefault("crawler.page_load_timeout", 20*time.Second)
	v.SetDefault("crawler.popup_timeout", 5*time.Second)
	v.SetDefault("crawler.popup_storage_key", "showPopupForm")
	v.SetDefault("crawler.popup_storage_value", "false")
	v.SetDefault("crawler.next_timeout", 10*time.Second)
	v.SetDefault("crawler.listing_settle_delay", 2*time.Second)
	v.SetDefault("crawler.advance_settle_delay", 10*time.Second)
	v.SetDefault("crawler.navigation_qps", 0.0)
	v.SetDefault("crawler.detail_path_marker", extract.DefaultPathMarker)
	v.SetDefault("crawler.job_type_default", string(jobs.DefaultJobType))

	v.SetDefault("browser.mode", BrowserChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "actuary-jobs-crawler/1.0")
	v.SetDefault("browser.respect_robots", true)

	listing := browser.DefaultSelectors()
	v.SetDefault("selectors.listing.body", listing.Body)
	v.SetDefault("selectors.listing.listing", listing.Listing)
	v.SetDefault("selectors.listing.card", listing.Card)
	v.SetDefault("selectors.listing.card_link", listing.CardLink)
	v.SetDefault("selectors.listing.next", listing.Next)
	v.SetDefault("selectors.listing.popup_close", listing.PopupClose)

	detail := extract.DefaultSelectors()
	v.SetDefault("selectors.detail.title", detail.Title)
	v.SetDefault("selectors.detail.company", detail.Company)
	v.SetDefault("selectors.detail.locations", detail.Locations)
	v.SetDefault("selectors.detail.country", detail.Country)
	v.SetDefault("selectors.detail.city", detail.City)
	v.SetDefault("selectors.detail.posted_on", detail.PostedOn)
	v.SetDefault("selectors.detail.tag_container", detail.TagContainer)
	v.SetDefault("selectors.detail.tag", detail.Tag)
	v.SetDefault("selectors.detail.job_type", detail.JobType)

	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.base_dir", "diagnostics")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "diagnostics")

	v.SetDefault("db.driver", DBPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "job_postings")
	v.SetDefault("db.run_table", "crawl_runs")
	v.SetDefault("db.max_conns", 4)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("server.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.Crawler.validate(); err != nil {
		return err
	}
	switch c.Browser.Mode {
	case BrowserChromedp:
	case BrowserStatic:
		if err := c.Selectors.staticCompatible(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("browser.mode must be %q or %q, got %q", BrowserChromedp, BrowserStatic, c.Browser.Mode)
	}
	switch c.Storage.Backend {
	case StorageLocal:
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case StorageGCS:
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.backend must be local, gcs or memory, got %q", c.Storage.Backend)
	}
	switch c.DB.Driver {
	case DBPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
		if c.DB.MaxConns < 0 {
			return fmt.Errorf("db.max_conns must be >= 0")
		}
	case DBMemory:
	default:
		return fmt.Errorf("db.driver must be postgres or memory, got %q", c.DB.Driver)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

func (c CrawlerConfig) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("crawler.base_url must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	if c.MaxPages < 1 || c.MaxPages > MaxPagesCeiling {
		return fmt.Errorf("crawler.max_pages must be between 1 and %d, got %d", MaxPagesCeiling, c.MaxPages)
	}
	if c.CardWaitAttempts < 1 {
		return fmt.Errorf("crawler.card_wait_attempts must be >= 1")
	}
	positive := []durationKey{
		{"crawler.card_wait_timeout", c.CardWaitTimeout},
		{"crawler.detail_load_timeout", c.DetailLoadTimeout},
		{"crawler.page_load_timeout", c.PageLoadTimeout},
		{"crawler.popup_timeout", c.PopupTimeout},
		{"crawler.next_timeout", c.NextTimeout},
	}
	for _, k := range positive {
		if k.value <= 0 {
			return fmt.Errorf("%s must be > 0", k.key)
		}
	}
	nonNegative := []durationKey{
		{"crawler.card_wait_delay", c.CardWaitDelay},
		{"crawler.listing_settle_delay", c.ListingSettleDelay},
		{"crawler.advance_settle_delay", c.AdvanceSettleDelay},
	}
	for _, k := range nonNegative {
		if k.value < 0 {
			return fmt.Errorf("%s must be >= 0", k.key)
		}
	}
	if c.NavigationQPS < 0 {
		return fmt.Errorf("crawler.navigation_qps must be >= 0")
	}
	if strings.TrimSpace(c.DetailPathMarker) == "" {
		return fmt.Errorf("crawler.detail_path_marker is required")
	}
	if strings.TrimSpace(c.JobTypeDefault) == "" {
		return fmt.Errorf("crawler.job_type_default is required")
	}
	return nil
}

// durationKey pairs a config key with its value so checks run, and report,
// in declaration order.
type durationKey struct {
	key   string
	value time.Duration
}

// staticCompatible rejects XPath listing selectors, which the static
// surface cannot evaluate.
func (s SelectorsConfig) staticCompatible() error {
	listing := []struct {
		key string
		sel string
	}{
		{"selectors.listing.body", s.Listing.Body},
		{"selectors.listing.listing", s.Listing.Listing},
		{"selectors.listing.card", s.Listing.Card},
		{"selectors.listing.card_link", s.Listing.CardLink},
		{"selectors.listing.next", s.Listing.Next},
		{"selectors.listing.popup_close", s.Listing.PopupClose},
	}
	for _, l := range listing {
		if browser.IsXPath(l.sel) {
			return fmt.Errorf("%s must be a CSS selector in static browser mode, got XPath %q", l.key, l.sel)
		}
	}
	return nil
}
