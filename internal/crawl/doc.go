// Package crawl drives a paginated job listing through a browser surface.
//
// A Crawler visits the listing root, walks listing pages in order, opens the
// detail page behind every job card, extracts a posting and hands it to a
// sink. Failures are contained at the smallest unit that can absorb them: a
// bad card is skipped, an empty listing ends the crawl, and only a failure
// to reach the site at all faults the run.
package crawl
