package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forksnd/convey/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ArtifactStore implements ports.ArtifactStore using Redis.
//
// The at-most-one-writer guarantee is enforced with SETNX on the content
// key. Artifacts expire with the same TTL as their run state.
type ArtifactStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewArtifactStore creates a new Redis artifact store.
func NewArtifactStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ArtifactStore {
	return &ArtifactStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Put stores a stage output. A second write for the same (run, stage)
// returns domain.ErrArtifactConflict.
func (s *ArtifactStore) Put(ctx context.Context, runID, stage string, blob []byte) (domain.ArtifactRef, error) {
	ref := domain.ArtifactRef{RunID: runID, Stage: stage}
	blobKey := getBlobKey(ref)
	metaKey := getMetaKey(ref)

	ok, err := s.client.SetNX(ctx, blobKey, blob, s.ttl).Result()
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("failed to store artifact: %w", err)
	}
	if !ok {
		return domain.ArtifactRef{}, fmt.Errorf("%w: %s/%s", domain.ErrArtifactConflict, runID, stage)
	}

	sum := sha256.Sum256(blob)
	meta := domain.ArtifactMeta{
		Ref:       ref,
		SHA256:    hex.EncodeToString(sum[:]),
		Size:      int64(len(blob)),
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("failed to marshal artifact meta: %w", err)
	}
	if err := s.client.Set(ctx, metaKey, data, s.ttl).Err(); err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("failed to store artifact meta: %w", err)
	}

	s.logger.Debug("artifact stored",
		zap.String("run_id", runID),
		zap.String("stage", stage),
		zap.Int64("size", meta.Size))

	return ref, nil
}

// Get retrieves an artifact's content and metadata.
func (s *ArtifactStore) Get(ctx context.Context, ref domain.ArtifactRef) ([]byte, *domain.ArtifactMeta, error) {
	blob, err := s.client.Get(ctx, getBlobKey(ref)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil, fmt.Errorf("%w: %s/%s", domain.ErrArtifactNotFound, ref.RunID, ref.Stage)
		}
		return nil, nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	meta, err := s.Stat(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	return blob, meta, nil
}

// Stat retrieves only an artifact's metadata.
func (s *ArtifactStore) Stat(ctx context.Context, ref domain.ArtifactRef) (*domain.ArtifactMeta, error) {
	data, err := s.client.Get(ctx, getMetaKey(ref)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrArtifactNotFound, ref.RunID, ref.Stage)
		}
		return nil, fmt.Errorf("failed to get artifact meta: %w", err)
	}

	var meta domain.ArtifactMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact meta: %w", err)
	}

	return &meta, nil
}

// getBlobKey returns the Redis key for an artifact's content.
func getBlobKey(ref domain.ArtifactRef) string {
	return fmt.Sprintf("convey:artifact:%s:%s:blob", ref.RunID, ref.Stage)
}

// getMetaKey returns the Redis key for an artifact's metadata.
func getMetaKey(ref domain.ArtifactRef) string {
	return fmt.Sprintf("convey:artifact:%s:%s:meta", ref.RunID, ref.Stage)
}
