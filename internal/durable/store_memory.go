package durable

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryRunStore keeps run records in process memory. Useful for local
// development and tests; records do not survive restarts.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
}

var _ RunStore = (*MemoryRunStore)(nil)

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*RunRecord)}
}

func (s *MemoryRunStore) Create(_ context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return errors.New("durable: run id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[rec.RunID]; ok {
		return ErrRunExists
	}
	rec.stamp(time.Now().UTC())
	s.runs[rec.RunID] = rec.clone()
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return rec.clone(), nil
}

func (s *MemoryRunStore) Save(_ context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return errors.New("durable: run id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[rec.RunID]; !ok {
		return ErrRunNotFound
	}
	rec.UpdatedAt = time.Now().UTC()
	s.runs[rec.RunID] = rec.clone()
	return nil
}

func (s *MemoryRunStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}
