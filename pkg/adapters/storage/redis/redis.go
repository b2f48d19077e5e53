package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forksnd/convey/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RunStore implements ports.RunStore using Redis.
type RunStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRunStore creates a new Redis run store. Run state expires after ttl.
func NewRunStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RunStore {
	return &RunStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveRun saves run state to Redis with the store's TTL.
func (s *RunStore) SaveRun(ctx context.Context, run *domain.RunState) error {
	key := getRunKey(run.RunID)

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	s.logger.Debug("run saved",
		zap.String("run_id", run.RunID),
		zap.String("status", string(run.Status)))

	return nil
}

// GetRun retrieves run state from Redis.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*domain.RunState, error) {
	key := getRunKey(runID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var run domain.RunState
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}

	return &run, nil
}

// ListRuns lists all stored runs.
func (s *RunStore) ListRuns(ctx context.Context) ([]*domain.RunState, error) {
	pattern := "convey:run:*"

	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	runs := make([]*domain.RunState, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}

		var run domain.RunState
		if err := json.Unmarshal(data, &run); err != nil {
			continue
		}

		runs = append(runs, &run)
	}

	return runs, nil
}

// DeleteRun deletes run state from Redis.
func (s *RunStore) DeleteRun(ctx context.Context, runID string) error {
	key := getRunKey(runID)

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	s.logger.Debug("run deleted", zap.String("run_id", runID))
	return nil
}

// getRunKey returns the Redis key for a run state record.
func getRunKey(runID string) string {
	return fmt.Sprintf("convey:run:%s", runID)
}
