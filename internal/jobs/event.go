package jobs

import "time"

// PostingEvent announces a posting stored for the first time.
type PostingEvent struct {
	RunID      string     `json:"run_id"`
	ObservedAt time.Time  `json:"observed_at"`
	Posting    JobPosting `json:"posting"`
}
