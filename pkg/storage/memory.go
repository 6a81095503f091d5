package storage

import (
	"context"
	"sync"

	"github.com/riverinsight/riverd/pkg/meander"
)

// MemoryRunStore keeps forecast runs in process memory. It is the default
// backend: the cache contract only requires process-lifetime retention, and
// runs are cleared at shutdown anyway.
//
// It is safe for concurrent use by multiple goroutines. Stored runs are
// held by reference; callers must treat them as read-only, which the run
// type already requires.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*meander.ForecastRun
}

// NewMemoryRunStore creates an empty in-memory run store, ready to use with
// no additional configuration.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]*meander.ForecastRun),
	}
}

// Get retrieves the run stored under key, or meander.ErrRunNotFound.
func (s *MemoryRunStore) Get(ctx context.Context, key string) (*meander.ForecastRun, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[key]
	if !ok {
		return nil, meander.ErrRunNotFound
	}
	return run, nil
}

// PutOnce stores a run under key. Runs are write-once: a second put for the
// same key fails with meander.ErrCacheOverwrite and leaves the stored run
// untouched.
func (s *MemoryRunStore) PutOnce(ctx context.Context, key string, run *meander.ForecastRun) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[key]; exists {
		return meander.ErrCacheOverwrite
	}
	s.runs[key] = run
	return nil
}

// Delete removes the run under key. Deleting a missing key is not an error.
func (s *MemoryRunStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, key)
	return nil
}

// Clear removes every stored run.
func (s *MemoryRunStore) Clear(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = make(map[string]*meander.ForecastRun)
	return nil
}

// Len returns the number of runs currently stored. Primarily useful for
// tests and metrics.
func (s *MemoryRunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
