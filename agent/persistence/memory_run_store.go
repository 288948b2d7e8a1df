package persistence

import (
	"context"
	"sync"
)

// MemoryRunStore is an in-memory implementation of RunStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryRunStore struct {
	runs   map[string]*Run
	mu     sync.RWMutex
	closed bool
}

// NewMemoryRunStore creates a new in-memory run store
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*Run)}
}

// Close closes the store
func (s *MemoryRunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryRunStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Create persists a new run
func (s *MemoryRunStore) Create(ctx context.Context, run *Run) error {
	if run == nil {
		return ErrInvalidInput
	}
	if err := ValidateRunID(run.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.runs[run.ID]; exists {
		return ErrAlreadyExists
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// Get retrieves a run by ID
func (s *MemoryRunStore) Get(ctx context.Context, runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return run.Clone(), nil
}

// Update merges u into the stored run
func (s *MemoryRunStore) Update(ctx context.Context, runID string, u Update) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}

	next := run.Clone()
	if err := next.Apply(u); err != nil {
		return nil, err
	}
	s.runs[runID] = next
	return next.Clone(), nil
}

// List retrieves runs matching the filter
func (s *MemoryRunStore) List(ctx context.Context, filter RunFilter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	all := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		all = append(all, r.Clone())
	}
	return applyFilter(all, filter), nil
}
