package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/forksnd/convey/internal/domain"
)

type entry struct {
	blob []byte
	meta domain.ArtifactMeta
}

// ArtifactStore implements ports.ArtifactStore using an in-memory map.
// This is for testing and single-node use.
type ArtifactStore struct {
	artifacts map[domain.ArtifactRef]entry
	mu        sync.RWMutex
}

// NewArtifactStore creates a new in-memory artifact store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{artifacts: make(map[domain.ArtifactRef]entry)}
}

// Put stores a stage output. A second write for the same (run, stage)
// returns domain.ErrArtifactConflict.
func (s *ArtifactStore) Put(ctx context.Context, runID, stage string, blob []byte) (domain.ArtifactRef, error) {
	ref := domain.ArtifactRef{RunID: runID, Stage: stage}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.artifacts[ref]; exists {
		return domain.ArtifactRef{}, fmt.Errorf("%w: %s/%s", domain.ErrArtifactConflict, runID, stage)
	}

	sum := sha256.Sum256(blob)
	stored := append([]byte(nil), blob...)
	s.artifacts[ref] = entry{
		blob: stored,
		meta: domain.ArtifactMeta{
			Ref:       ref,
			SHA256:    hex.EncodeToString(sum[:]),
			Size:      int64(len(stored)),
			CreatedAt: time.Now(),
		},
	}

	return ref, nil
}

// Get retrieves an artifact's content and metadata.
func (s *ArtifactStore) Get(ctx context.Context, ref domain.ArtifactRef) ([]byte, *domain.ArtifactMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.artifacts[ref]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s/%s", domain.ErrArtifactNotFound, ref.RunID, ref.Stage)
	}

	meta := e.meta
	return append([]byte(nil), e.blob...), &meta, nil
}

// Stat retrieves only an artifact's metadata.
func (s *ArtifactStore) Stat(ctx context.Context, ref domain.ArtifactRef) (*domain.ArtifactMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.artifacts[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrArtifactNotFound, ref.RunID, ref.Stage)
	}

	meta := e.meta
	return &meta, nil
}
