package extract

import (
	"regexp"
	"strings"
)

// DefaultPathMarker is the path segment that precedes "/<digits>-" in job
// detail URLs.
const DefaultPathMarker = "/actuarial-jobs"

var defaultIDs = NewIDExtractor(DefaultPathMarker)

// IDExtractor derives the numeric job identifier from a detail URL.
type IDExtractor struct {
	pattern *regexp.Regexp
}

// NewIDExtractor builds an extractor for URLs shaped <marker>/<digits>-<slug>.
func NewIDExtractor(marker string) IDExtractor {
	marker = "/" + strings.Trim(marker, "/")
	return IDExtractor{pattern: regexp.MustCompile(regexp.QuoteMeta(marker) + `/(\d+)-`)}
}

// Extract returns the digits, or false when the URL does not match.
func (e IDExtractor) Extract(rawURL string) (string, bool) {
	if e.pattern == nil {
		return defaultIDs.Extract(rawURL)
	}
	match := e.pattern.FindStringSubmatch(rawURL)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// ExtractID applies the default extractor.
func ExtractID(rawURL string) (string, bool) {
	return defaultIDs.Extract(rawURL)
}
