package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/reldate"
)

// JobType is the employment category of a posting.
type JobType string

// Known job types.
const (
	JobTypeFullTime JobType = "Full-Time"
	JobTypePartTime JobType = "Part-Time"
	JobTypeContract JobType = "Contract"
)

// DefaultJobType is assigned when the source page carries no job type.
const DefaultJobType = JobTypeFullTime

// TagSeparator joins tags and cities into their stored text form.
const TagSeparator = ", "

// fieldSeparator cannot appear in scraped text, so joined fingerprint
// fields stay unambiguous.
const fieldSeparator = "\x1f"

// JobPosting is one extracted job. Values are never mutated after extraction.
type JobPosting struct {
	Title   string   `json:"title"`
	Company string   `json:"company"`
	City    string   `json:"city"`
	Country string   `json:"country"`
	JobType JobType  `json:"job_type"`
	Tags    []string `json:"tags"`
	Link    string   `json:"link"`
	// JobID is the numeric identifier taken from Link; empty when the link
	// does not have the expected shape.
	JobID string `json:"job_id,omitempty"`
	// PostedRelative is the raw text found on the page, kept for audit.
	PostedRelative string `json:"posting_date_relative"`
	// PostedOn is a date at midnight UTC.
	PostedOn time.Time `json:"posting_date"`
}

// HasJobID reports whether the posting carries a deduplication key.
func (p JobPosting) HasJobID() bool {
	return p.JobID != ""
}

// TagsText returns the tags in their stored, separator-joined form.
func (p JobPosting) TagsText() string {
	return strings.Join(p.Tags, TagSeparator)
}

// PostedOnText formats PostedOn as YYYY-MM-DD.
func (p JobPosting) PostedOnText() string {
	if p.PostedOn.IsZero() {
		return ""
	}
	return reldate.Format(p.PostedOn)
}

// Fingerprint digests the stored columns, in a fixed order, with h. Two
// postings with equal rows share a fingerprint.
func (p JobPosting) Fingerprint(h Hasher) (string, error) {
	fields := []string{
		p.Title,
		p.Company,
		p.City,
		p.Country,
		p.PostedOnText(),
		string(p.JobType),
		p.TagsText(),
		p.Link,
		p.JobID,
	}
	sum, err := h.Hash([]byte(strings.Join(fields, fieldSeparator)))
	if err != nil {
		return "", fmt.Errorf("fingerprint posting: %w", err)
	}
	return sum, nil
}

// Outcome is the result of a successful upsert.
type Outcome string

// Upsert outcomes.
const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeDuplicate Outcome = "duplicate"
)
