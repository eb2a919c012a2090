package jobs

import "time"

// RunSummary is the final tally of one crawl run.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	State      string
	StopReason string
	Pages      int
	Cards      int
	Inserted   int
	Duplicates int
	Failed     int
	Skipped    int
	// Error is empty for runs that reached Done.
	Error string
}
