package jobs

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrRunNotFound is returned when the run ledger has no such run.
var ErrRunNotFound = errors.New("run not found")

// Sink persists postings idempotently. A uniqueness conflict is reported as
// OutcomeDuplicate, never as an error.
type Sink interface {
	Upsert(ctx context.Context, posting JobPosting) (Outcome, error)
	Close() error
}

// BlobStore writes diagnostic artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes new-posting events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for row fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RunRecorder keeps a ledger of crawl runs.
type RunRecorder interface {
	StartRun(ctx context.Context, runID string, startedAt time.Time) error
	FinishRun(ctx context.Context, summary RunSummary) error
}

// RunReader reads the crawl run ledger, most recent first.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (RunSummary, error)
	ListRuns(ctx context.Context, limit, offset int) ([]RunSummary, error)
}
