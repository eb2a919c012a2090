package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/jobs"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/reldate"
)

// ErrEmptyMarkup is returned when the detail page rendered nothing.
var ErrEmptyMarkup = errors.New("empty detail markup")

// Selectors locate each field on a detail page. Country and City are
// searched inside Locations; Tag is searched inside TagContainer.
type Selectors struct {
	Title        string `mapstructure:"title"`
	Company      string `mapstructure:"company"`
	Locations    string `mapstructure:"locations"`
	Country      string `mapstructure:"country"`
	City         string `mapstructure:"city"`
	PostedOn     string `mapstructure:"posted_on"`
	TagContainer string `mapstructure:"tag_container"`
	Tag          string `mapstructure:"tag"`
	// JobType is optional; when empty or absent the default job type applies.
	JobType string `mapstructure:"job_type"`
}

// DefaultSelectors matches the actuarylist.com detail layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Title:        "p.Job_job-card__position__ic1rc",
		Company:      "p.Job_job-card__company__7T9qY",
		Locations:    "div.Job_job-card__locations__x1exr",
		Country:      "a.Job_job-card__country__GRVhK",
		City:         "a.Job_job-card__location__bq7jX",
		PostedOn:     "p.Job_job-card__posted-on__NCZaJ",
		TagContainer: "div.Job_mobile-tag-container__PE6K3",
		Tag:          "a.Job_job-card__location__bq7jX",
	}
}

// Config controls a DetailExtractor.
type Config struct {
	Selectors      Selectors
	PathMarker     string
	DefaultJobType jobs.JobType
}

// DetailExtractor parses rendered detail pages.
type DetailExtractor struct {
	sel         Selectors
	ids         IDExtractor
	defaultType jobs.JobType
	clock       jobs.Clock
	logger      *zap.Logger
}

// NewDetailExtractor builds an extractor. The clock supplies the reference
// "now" for relative posting dates.
func NewDetailExtractor(cfg Config, clock jobs.Clock, logger *zap.Logger) *DetailExtractor {
	if cfg.PathMarker == "" {
		cfg.PathMarker = DefaultPathMarker
	}
	if cfg.DefaultJobType == "" {
		cfg.DefaultJobType = jobs.DefaultJobType
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetailExtractor{
		sel:         cfg.Selectors,
		ids:         NewIDExtractor(cfg.PathMarker),
		defaultType: cfg.DefaultJobType,
		clock:       clock,
		logger:      logger,
	}
}

// Extract builds a posting from markup rendered at sourceURL. Absent fields
// take their defaults; only empty or unparseable markup is an error.
func (e *DetailExtractor) Extract(markup, sourceURL string) (jobs.JobPosting, error) {
	if strings.TrimSpace(markup) == "" {
		return jobs.JobPosting{}, ErrEmptyMarkup
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return jobs.JobPosting{}, fmt.Errorf("parse detail markup: %w", err)
	}

	posting := jobs.JobPosting{
		Title:   firstText(doc.Selection, e.sel.Title),
		Company: firstText(doc.Selection, e.sel.Company),
		JobType: e.jobType(doc),
		Link:    sourceURL,
	}
	posting.Country, posting.City = e.location(doc)
	posting.Tags = e.tags(doc)
	posting.JobID, _ = e.ids.Extract(sourceURL)

	posting.PostedRelative = firstText(doc.Selection, e.sel.PostedOn)
	postedOn, matched := reldate.Resolve(posting.PostedRelative, e.clock.Now())
	if !matched {
		e.logger.Debug("posting date fell back to run date",
			zap.String("url", sourceURL),
			zap.String("relative", posting.PostedRelative),
		)
	}
	posting.PostedOn = postedOn
	return posting, nil
}

func (e *DetailExtractor) location(doc *goquery.Document) (string, string) {
	container := find(doc.Selection, e.sel.Locations).First()
	if container.Length() == 0 {
		return "", ""
	}
	country := firstText(container, e.sel.Country)
	var cities []string
	find(container, e.sel.City).Each(func(_ int, s *goquery.Selection) {
		if city := strings.TrimSpace(s.Text()); city != "" {
			cities = append(cities, city)
		}
	})
	return country, strings.Join(cities, jobs.TagSeparator)
}

func (e *DetailExtractor) tags(doc *goquery.Document) []string {
	container := find(doc.Selection, e.sel.TagContainer).First()
	if container.Length() == 0 {
		return nil
	}
	var tags []string
	find(container, e.sel.Tag).Each(func(_ int, s *goquery.Selection) {
		tags = append(tags, strings.TrimSpace(s.Text()))
	})
	return tags
}

func (e *DetailExtractor) jobType(doc *goquery.Document) jobs.JobType {
	if text := firstText(doc.Selection, e.sel.JobType); text != "" {
		return jobs.JobType(text)
	}
	return e.defaultType
}

// find treats an empty selector as "no such element".
func find(s *goquery.Selection, selector string) *goquery.Selection {
	if strings.TrimSpace(selector) == "" {
		return s.Slice(0, 0)
	}
	return s.Find(selector)
}

func firstText(s *goquery.Selection, selector string) string {
	return strings.TrimSpace(find(s, selector).First().Text())
}
