package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/browser"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/config"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/extract"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/jobs"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func withEnv(t *testing.T, cfg config.Config) {
	t.Helper()
	prev := loadEnv
	loadEnv = func(string) (*env, error) {
		return &env{cfg: cfg, logger: zap.NewNop()}, nil
	}
	t.Cleanup(func() { loadEnv = prev })
}

func TestNormalizeCommand(t *testing.T) {
	out, err := execute(t, "normalize", "--now", "2024-03-31", "1m", "ago")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29\n", out)

	out, err = execute(t, "normalize", "--now", "2024-03-31", "yesterday")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-31\n", out)
}

func TestNormalizeRejectsBadReference(t *testing.T) {
	_, err := execute(t, "normalize", "--now", "31/03/2024", "3d ago")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--now must be YYYY-MM-DD")
}

func TestMissingConfigFileFails(t *testing.T) {
	_, err := execute(t, "crawl", "--config", t.TempDir()+"/absent.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestMigrateNeedsPostgres(t *testing.T) {
	withEnv(t, config.Config{DB: config.DBConfig{Driver: config.DBMemory}})
	_, err := execute(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate needs db.driver")
}

func TestCrawlCommandPrintsSummary(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>home</body></html>`))
	})
	mux.HandleFunc("/listings", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><section class="listing">
<div class="card"><a class="job-link" href="/actuarial-jobs/7-pricing-actuary">one</a></div>
</section></body></html>`))
	})
	mux.HandleFunc("/actuarial-jobs/7-pricing-actuary", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h1 class="title">Pricing Actuary</h1>
<p class="company">Acme Re</p><p class="posted">1d ago</p></body></html>`))
	})
	site := httptest.NewServer(mux)
	t.Cleanup(site.Close)

	withEnv(t, config.Config{
		Crawler: config.CrawlerConfig{
			BaseURL:           site.URL + "/listings",
			MaxPages:          1,
			CardWaitAttempts:  1,
			CardWaitTimeout:   time.Second,
			DetailLoadTimeout: time.Second,
			PageLoadTimeout:   5 * time.Second,
			PopupTimeout:      time.Second,
			NextTimeout:       time.Second,
			DetailPathMarker:  extract.DefaultPathMarker,
			JobTypeDefault:    string(jobs.DefaultJobType),
		},
		Browser: config.BrowserConfig{Mode: config.BrowserStatic},
		Selectors: config.SelectorsConfig{
			Listing: browser.Selectors{
				Body:       "body",
				Listing:    "section.listing",
				Card:       "div.card",
				CardLink:   "a.job-link",
				Next:       "a.next",
				PopupClose: "button.close",
			},
			Detail: extract.Selectors{
				Title:        "h1.title",
				Company:      "p.company",
				Locations:    "div.locations",
				Country:      "a.country",
				City:         "a.city",
				PostedOn:     "p.posted",
				TagContainer: "div.tags",
				Tag:          "a.tag",
			},
		},
		Storage: config.StorageConfig{Backend: config.StorageMemory},
		DB:      config.DBConfig{Driver: config.DBMemory},
	})

	out, err := execute(t, "crawl")
	require.NoError(t, err)
	assert.Contains(t, out, ": done (max_pages) pages=1 inserted=1")
}
