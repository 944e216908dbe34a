// Package memory provides an in-memory result store for development and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
)

// ResultStore keeps extraction results in a map keyed by dedup key.
type ResultStore struct {
	mu   sync.Mutex
	recs map[string]pipeline.ResultRecord
}

// NewResultStore constructs an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{recs: make(map[string]pipeline.ResultRecord)}
}

// Exists reports whether a record with the key is already stored.
func (s *ResultStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.recs[key]
	return ok, nil
}

// Write stores the record unless the key already exists. The check and the
// insert happen under one lock, mirroring the conditional insert of the
// Postgres implementation.
func (s *ResultStore) Write(_ context.Context, rec pipeline.ResultRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.Key]; ok {
		return false, nil
	}
	s.recs[rec.Key] = rec
	return true, nil
}

// Get returns a stored record, mainly for test assertions.
func (s *ResultStore) Get(key string) (pipeline.ResultRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	return rec, ok
}

// Len reports how many records are stored.
func (s *ResultStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}
