package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/clock/system"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/jobs"
)

const fullDetail = `<html><body>
<div class="Job_job-card__YgDAV">
  <p class="Job_job-card__position__ic1rc"> Senior Pricing Actuary </p>
  <p class="Job_job-card__company__7T9qY">MetLife</p>
  <div class="Job_job-card__locations__x1exr">
    <a class="Job_job-card__country__GRVhK">United States</a>
    <a class="Job_job-card__location__bq7jX">New York</a>
    <a class="Job_job-card__location__bq7jX">  </a>
    <a class="Job_job-card__location__bq7jX">Boston</a>
  </div>
  <p class="Job_job-card__posted-on__NCZaJ">8d ago</p>
  <div class="Job_mobile-tag-container__PE6K3">
    <a class="Job_job-card__location__bq7jX">Life</a>
    <a class="Job_job-card__location__bq7jX">Pricing</a>
  </div>
</div>
</body></html>`

const sourceURL = "https://www.actuarylist.com/actuarial-jobs/33794-metlife"

func newTestExtractor(now time.Time) *DetailExtractor {
	return NewDetailExtractor(Config{Selectors: DefaultSelectors()}, system.NewFixed(now), zap.NewNop())
}

func TestDetailExtractorFullPage(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	got, err := newTestExtractor(now).Extract(fullDetail, sourceURL)
	require.NoError(t, err)

	require.Equal(t, "Senior Pricing Actuary", got.Title)
	require.Equal(t, "MetLife", got.Company)
	require.Equal(t, "United States", got.Country)
	require.Equal(t, "New York, Boston", got.City)
	require.Equal(t, []string{"Life", "Pricing"}, got.Tags)
	require.Equal(t, "Life, Pricing", got.TagsText())
	require.Equal(t, "8d ago", got.PostedRelative)
	require.Equal(t, "2024-03-07", got.PostedOnText())
	require.Equal(t, jobs.DefaultJobType, got.JobType)
	require.Equal(t, sourceURL, got.Link)
	require.Equal(t, "33794", got.JobID)
}

func TestDetailExtractorMissingTagContainer(t *testing.T) {
	t.Parallel()

	markup := `<html><body>
<p class="Job_job-card__position__ic1rc">Actuarial Analyst</p>
<p class="Job_job-card__company__7T9qY">Acme Re</p>
<div class="Job_job-card__locations__x1exr"><a class="Job_job-card__country__GRVhK">UK</a></div>
<p class="Job_job-card__posted-on__NCZaJ">1m ago</p>
</body></html>`
	now := time.Date(2024, time.March, 31, 8, 0, 0, 0, time.UTC)
	got, err := newTestExtractor(now).Extract(markup, sourceURL)
	require.NoError(t, err)

	require.Empty(t, got.Tags)
	require.Equal(t, "", got.TagsText())
	require.Equal(t, "Actuarial Analyst", got.Title)
	require.Equal(t, "Acme Re", got.Company)
	require.Equal(t, "UK", got.Country)
	require.Equal(t, "", got.City)
	require.Equal(t, "2024-02-29", got.PostedOnText())
}

func TestDetailExtractorDefaultsEverything(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.June, 1, 23, 59, 0, 0, time.UTC)
	got, err := newTestExtractor(now).Extract(`<html><body><main>nothing here</main></body></html>`, "https://x/about")
	require.NoError(t, err)

	require.Equal(t, "", got.Title)
	require.Equal(t, "", got.Company)
	require.Equal(t, "", got.City)
	require.Equal(t, "", got.Country)
	require.Equal(t, "", got.PostedRelative)
	require.Equal(t, "2024-06-01", got.PostedOnText())
	require.Equal(t, jobs.DefaultJobType, got.JobType)
	require.False(t, got.HasJobID())
}

func TestDetailExtractorUnparseableDateFallsBack(t *testing.T) {
	t.Parallel()

	markup := `<p class="Job_job-card__posted-on__NCZaJ">Featured</p>`
	now := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	got, err := newTestExtractor(now).Extract(markup, sourceURL)
	require.NoError(t, err)
	require.Equal(t, "Featured", got.PostedRelative)
	require.Equal(t, "2024-01-02", got.PostedOnText())
}

func TestDetailExtractorJobTypeSelector(t *testing.T) {
	t.Parallel()

	sel := DefaultSelectors()
	sel.JobType = "span.job-type"
	ex := NewDetailExtractor(Config{Selectors: sel, DefaultJobType: jobs.JobTypeContract}, system.NewFixed(time.Now()), nil)

	got, err := ex.Extract(`<span class="job-type">Part-Time</span>`, sourceURL)
	require.NoError(t, err)
	require.Equal(t, jobs.JobTypePartTime, got.JobType)

	got, err = ex.Extract(`<p>no type</p>`, sourceURL)
	require.NoError(t, err)
	require.Equal(t, jobs.JobTypeContract, got.JobType)
}

func TestDetailExtractorEmptyMarkup(t *testing.T) {
	t.Parallel()

	_, err := newTestExtractor(time.Now()).Extract("  \n", sourceURL)
	require.ErrorIs(t, err, ErrEmptyMarkup)
}
