package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/jobs"
)

// DefaultRunTable is the crawl run ledger table.
const DefaultRunTable = "crawl_runs"

// RunStore records the start and outcome of every crawl run.
type RunStore struct {
	pool  queryExecCloser
	table string
}

// NewRunStoreWithPool builds a RunStore on a pool owned by the caller.
func NewRunStoreWithPool(pool queryExecCloser, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, DefaultRunTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the run ledger table if it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	state TEXT NOT NULL,
	stop_reason TEXT NOT NULL DEFAULT '',
	pages INTEGER NOT NULL DEFAULT 0,
	cards INTEGER NOT NULL DEFAULT 0,
	inserted INTEGER NOT NULL DEFAULT 0,
	duplicates INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// StartRun inserts a running row. Restarting a known run ID is a no-op.
func (s *RunStore) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at, state)
VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, "running"); err != nil {
		return fmt.Errorf("start run %s: %w", runID, err)
	}
	return nil
}

// FinishRun stores the final tally of a run.
func (s *RunStore) FinishRun(ctx context.Context, summary jobs.RunSummary) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, state = $2, stop_reason = $3,
	pages = $4, cards = $5, inserted = $6, duplicates = $7, failed = $8, skipped = $9,
	error_message = $10
WHERE run_id = $11`, s.table)
	var errMsg *string
	if summary.Error != "" {
		msg := summary.Error
		errMsg = &msg
	}
	tag, err := s.pool.Exec(ctx, query,
		summary.FinishedAt,
		summary.State,
		summary.StopReason,
		summary.Pages,
		summary.Cards,
		summary.Inserted,
		summary.Duplicates,
		summary.Failed,
		summary.Skipped,
		errMsg,
		summary.RunID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", summary.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: run was never started", summary.RunID)
	}
	return nil
}

const runColumns = `run_id::text, started_at, finished_at, state, stop_reason,
	pages, cards, inserted, duplicates, failed, skipped, error_message`

// GetRun loads one run. Unknown IDs return jobs.ErrRunNotFound.
func (s *RunStore) GetRun(ctx context.Context, runID string) (jobs.RunSummary, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE run_id = $1`, runColumns, s.table)
	summary, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.RunSummary{}, fmt.Errorf("%w: %s", jobs.ErrRunNotFound, runID)
	}
	if err != nil {
		return jobs.RunSummary{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return summary, nil
}

// ListRuns returns runs ordered by start time, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]jobs.RunSummary, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY started_at DESC
LIMIT $1 OFFSET $2`, runColumns, s.table)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []jobs.RunSummary
	for rows.Next() {
		summary, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (jobs.RunSummary, error) {
	var (
		summary  jobs.RunSummary
		finished *time.Time
		errMsg   *string
	)
	err := row.Scan(
		&summary.RunID,
		&summary.StartedAt,
		&finished,
		&summary.State,
		&summary.StopReason,
		&summary.Pages,
		&summary.Cards,
		&summary.Inserted,
		&summary.Duplicates,
		&summary.Failed,
		&summary.Skipped,
		&errMsg,
	)
	if err != nil {
		return jobs.RunSummary{}, err
	}
	if finished != nil {
		summary.FinishedAt = *finished
	}
	if errMsg != nil {
		summary.Error = *errMsg
	}
	return summary, nil
}
