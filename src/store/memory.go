package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of Store.
// The ledger is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	order  []string
	builds map[string][]PostedBuild // runID -> builds
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]*Run),
		builds: make(map[string][]PostedBuild),
	}
}

// CreateRun records a started run.
func (s *MemoryStore) CreateRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	if _, exists := s.runs[run.ID]; !exists {
		s.order = append(s.order, run.ID)
	}
	runCopy := *run
	s.runs[run.ID] = &runCopy
	return nil
}

// CompleteRun stores the final state of a run.
func (s *MemoryStore) CompleteRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.runs[run.ID]
	if !exists {
		return ErrNotFound{RunID: run.ID}
	}
	stored.Status, stored.Success, stored.FinishedAt = run.Status, run.Success, run.FinishedAt
	stored.Unrecorded, stored.Posted, stored.Skipped = run.Unrecorded, run.Posted, run.Skipped
	stored.Errored, stored.Deferred = run.Errored, run.Deferred
	stored.Watermark, stored.Error = run.Watermark, run.Error
	return nil
}

// SavePostedBuild records one build created by a run.
func (s *MemoryStore) SavePostedBuild(ctx context.Context, build *PostedBuild) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[build.RunID]; !exists {
		return ErrNotFound{RunID: build.RunID}
	}
	s.builds[build.RunID] = append(s.builds[build.RunID], *build)
	return nil
}

// GetRun returns a run by ID.
func (s *MemoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, ErrNotFound{RunID: id}
	}
	runCopy := *run
	return &runCopy, nil
}

// ListRuns returns the most recent runs first.
func (s *MemoryStore) ListRuns(ctx context.Context, config string, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []Run
	for _, id := range s.order {
		if r := s.runs[id]; config == "" || r.Config == config {
			runs = append(runs, *r)
		}
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// GetPostedBuilds returns the builds of a run in posting order.
func (s *MemoryStore) GetPostedBuilds(ctx context.Context, runID string) ([]PostedBuild, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.runs[runID]; !exists {
		return nil, ErrNotFound{RunID: runID}
	}
	builds := s.builds[runID]
	result := make([]PostedBuild, len(builds))
	copy(result, builds)
	return result, nil
}

// Close closes the store (no-op for memory store).
func (s *MemoryStore) Close() error {
	return nil
}
