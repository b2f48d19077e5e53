package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/forksnd/convey/internal/domain"
)

// RunStore implements ports.RunStore using an in-memory map.
// This is for testing and single-node use.
type RunStore struct {
	runs map[string][]byte
	mu   sync.RWMutex
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string][]byte)}
}

// SaveRun persists a snapshot of the run state.
func (s *RunStore) SaveRun(ctx context.Context, run *domain.RunState) error {
	// Serialize so callers never share memory with the stored copy,
	// matching the Redis adapter's behaviour.
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = data
	return nil
}

// GetRun retrieves the stored state for a run.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	s.mu.RLock()
	data, ok := s.runs[runID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}

	var run domain.RunState
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// ListRuns returns all stored runs.
func (s *RunStore) ListRuns(ctx context.Context) ([]*domain.RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*domain.RunState, 0, len(s.runs))
	for _, data := range s.runs {
		var run domain.RunState
		if err := json.Unmarshal(data, &run); err != nil {
			continue
		}
		runs = append(runs, &run)
	}
	return runs, nil
}

// DeleteRun removes the stored state for a run.
func (s *RunStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}
