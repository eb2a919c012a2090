package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/jobs"
)

// RunStore keeps the crawl run ledger in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]jobs.RunSummary
}

// NewRunStore returns an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]jobs.RunSummary)}
}

// StartRun records a running run. Restarting a known run ID is a no-op.
func (s *RunStore) StartRun(_ context.Context, runID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; ok {
		return nil
	}
	s.runs[runID] = jobs.RunSummary{RunID: runID, StartedAt: startedAt, State: "running"}
	return nil
}

// FinishRun replaces the run's tally, keeping the recorded start time.
func (s *RunStore) FinishRun(_ context.Context, summary jobs.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.runs[summary.RunID]
	if !ok {
		return fmt.Errorf("finish run %s: run was never started", summary.RunID)
	}
	summary.StartedAt = prev.StartedAt
	s.runs[summary.RunID] = summary
	return nil
}

// Run returns the ledger entry for runID.
func (s *RunStore) Run(runID string) (jobs.RunSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	return r, ok
}

// GetRun implements jobs.RunReader.
func (s *RunStore) GetRun(_ context.Context, runID string) (jobs.RunSummary, error) {
	r, ok := s.Run(runID)
	if !ok {
		return jobs.RunSummary{}, fmt.Errorf("%w: %s", jobs.ErrRunNotFound, runID)
	}
	return r, nil
}

// ListRuns implements jobs.RunReader.
func (s *RunStore) ListRuns(_ context.Context, limit, offset int) ([]jobs.RunSummary, error) {
	s.mu.RLock()
	out := make([]jobs.RunSummary, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
