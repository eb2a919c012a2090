package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/hash/sha256"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/jobs"
)

// DefaultJobTable is the table postings are written to.
const DefaultJobTable = "job_postings"

// JobStore writes postings into Postgres. Uniqueness on job_id and on the
// row fingerprint turns repeated inserts into no-ops.
type JobStore struct {
	pool   execCloser
	table  string
	hasher jobs.Hasher
}

// NewJobStore opens a pool and returns a store writing to table.
func NewJobStore(ctx context.Context, cfg PoolConfig, table string) (*JobStore, error) {
	table, err := checkTable(table, DefaultJobTable)
	if err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool, table: table, hasher: sha256.New()}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool. A nil hasher
// falls back to SHA-256.
func NewJobStoreWithPool(pool execCloser, table string, hasher jobs.Hasher) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, DefaultJobTable)
	if err != nil {
		return nil, err
	}
	if hasher == nil {
		hasher = sha256.New()
	}
	return &JobStore{pool: pool, table: table, hasher: hasher}, nil
}

// EnsureSchema creates the postings table if it does not exist.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT UNIQUE,
	fingerprint CHAR(64) NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	company TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	posting_date_relative TEXT NOT NULL DEFAULT '',
	posting_date DATE NOT NULL,
	job_type TEXT NOT NULL DEFAULT '%[2]s',
	tags TEXT NOT NULL DEFAULT '',
	link TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table, jobs.DefaultJobType)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Upsert inserts the posting, reporting OutcomeDuplicate when a row with
// the same job ID or fingerprint already exists.
func (s *JobStore) Upsert(ctx context.Context, posting jobs.JobPosting) (jobs.Outcome, error) {
	if s == nil || s.pool == nil {
		return "", fmt.Errorf("job store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	fingerprint,
	title,
	company,
	city,
	country,
	posting_date_relative,
	posting_date,
	job_type,
	tags,
	link
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
) ON CONFLICT DO NOTHING`, s.table)

	fingerprint, err := posting.Fingerprint(s.hasher)
	if err != nil {
		return "", err
	}
	tag, err := s.pool.Exec(ctx, query, postingArgs(posting, fingerprint)...)
	if err != nil {
		return "", fmt.Errorf("insert posting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.OutcomeDuplicate, nil
	}
	return jobs.OutcomeInserted, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func postingArgs(p jobs.JobPosting, fingerprint string) []any {
	var jobID *string
	if p.HasJobID() {
		id := p.JobID
		jobID = &id
	}
	return []any{
		jobID,
		fingerprint,
		p.Title,
		p.Company,
		p.City,
		p.Country,
		p.PostedRelative,
		p.PostedOn,
		string(p.JobType),
		p.TagsText(),
		p.Link,
	}
}
