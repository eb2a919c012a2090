package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/hash/sha256"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/jobs"
)

// ErrClosed is returned by Upsert after Close.
var ErrClosed = errors.New("posting store closed")

// PostingStore is an in-memory jobs.Sink with the same uniqueness rules as
// the Postgres table: one row per job ID and one row per fingerprint.
type PostingStore struct {
	mu      sync.RWMutex
	rows    []jobs.JobPosting
	byJobID map[string]struct{}
	byPrint map[string]struct{}
	hasher  jobs.Hasher
	err     error
	closed  bool
}

// NewPostingStore constructs an empty PostingStore fingerprinting with SHA-256.
func NewPostingStore() *PostingStore {
	return NewPostingStoreWithHasher(sha256.New())
}

// NewPostingStoreWithHasher constructs an empty PostingStore that
// fingerprints rows with hasher.
func NewPostingStoreWithHasher(hasher jobs.Hasher) *PostingStore {
	return &PostingStore{
		byJobID: make(map[string]struct{}),
		byPrint: make(map[string]struct{}),
		hasher:  hasher,
	}
}

// FailWith makes every later Upsert return err.
func (s *PostingStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Upsert stores the posting unless its job ID or fingerprint is taken.
func (s *PostingStore) Upsert(_ context.Context, posting jobs.JobPosting) (jobs.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	if s.err != nil {
		return "", s.err
	}

	fp, err := posting.Fingerprint(s.hasher)
	if err != nil {
		return "", err
	}
	if _, ok := s.byPrint[fp]; ok {
		return jobs.OutcomeDuplicate, nil
	}
	if posting.HasJobID() {
		if _, ok := s.byJobID[posting.JobID]; ok {
			return jobs.OutcomeDuplicate, nil
		}
		s.byJobID[posting.JobID] = struct{}{}
	}
	s.byPrint[fp] = struct{}{}
	posting.Tags = append([]string(nil), posting.Tags...)
	s.rows = append(s.rows, posting)
	return jobs.OutcomeInserted, nil
}

// Postings returns stored rows in insertion order.
func (s *PostingStore) Postings() []jobs.JobPosting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]jobs.JobPosting, len(s.rows))
	copy(out, s.rows)
	return out
}

// Closed reports whether Close has been called.
func (s *PostingStore) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close marks the store closed. Rows stay readable.
func (s *PostingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
