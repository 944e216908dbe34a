// Package memory provides an in-memory task snapshot store with TTL reaping.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
)

// TaskStore keeps task snapshots keyed by task id. Terminal snapshots are
// deleted once they have been terminal for longer than the TTL, bounding
// memory for long-lived processes.
type TaskStore struct {
	mu    sync.RWMutex
	snaps map[string]entry
	ttl   time.Duration
	clock pipeline.Clock
}

type entry struct {
	snap       pipeline.Snapshot
	terminalAt time.Time
}

// NewTaskStore constructs a TaskStore. A non-positive ttl disables reaping.
func NewTaskStore(ttl time.Duration, clock pipeline.Clock) *TaskStore {
	return &TaskStore{
		snaps: make(map[string]entry),
		ttl:   ttl,
		clock: clock,
	}
}

// Put stores the snapshot, stamping terminal time on the first terminal write.
func (s *TaskStore) Put(_ context.Context, snap pipeline.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.snaps[snap.TaskID]
	e.snap = snap
	if snap.Status.IsTerminal() && e.terminalAt.IsZero() {
		e.terminalAt = s.clock.Now()
	}
	s.snaps[snap.TaskID] = e
	return nil
}

// Get returns the stored snapshot or pipeline.ErrTaskNotFound.
func (s *TaskStore) Get(_ context.Context, taskID string) (pipeline.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.snaps[taskID]
	if !ok {
		return pipeline.Snapshot{}, pipeline.ErrTaskNotFound
	}
	return e.snap, nil
}

// Reap deletes snapshots that have been terminal for longer than the TTL and
// returns how many were removed.
func (s *TaskStore) Reap() int {
	if s.ttl <= 0 {
		return 0
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.snaps {
		if !e.terminalAt.IsZero() && now.Sub(e.terminalAt) > s.ttl {
			delete(s.snaps, id)
			removed++
		}
	}
	return removed
}

// Run reaps expired snapshots on the given interval until ctx finishes.
func (s *TaskStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reap()
		}
	}
}
