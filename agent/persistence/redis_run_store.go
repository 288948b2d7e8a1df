package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRunStore is a Redis-based implementation of RunStore.
// Suitable for distributed production deployments.
// Each run is one string key holding JSON; a sorted set indexes runs by
// creation time. Update uses WATCH/MULTI so that concurrent writers merge
// instead of overwriting each other.
type RedisRunStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	maxRetries int
	logger     *zap.Logger
}

// NewRedisRunStore creates a new Redis-based run store
func NewRedisRunStore(config StoreConfig, logger *zap.Logger) (*RedisRunStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port),
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisRunStoreWithClient(client, config, logger), nil
}

// NewRedisRunStoreWithClient wraps an existing client. The store takes
// ownership and closes it on Close.
func NewRedisRunStoreWithClient(client redis.UniversalClient, config StoreConfig, logger *zap.Logger) *RedisRunStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "careerflow:"
	}
	retries := config.MaxCASRetries
	if retries <= 0 {
		retries = 16
	}
	return &RedisRunStore{
		client:     client,
		keyPrefix:  keyPrefix + "run:",
		maxRetries: retries,
		logger:     logger.With(zap.String("component", "redis_run_store")),
	}
}

// Close closes the store
func (s *RedisRunStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisRunStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// runKey returns the Redis key for a run
func (s *RedisRunStore) runKey(runID string) string {
	return s.keyPrefix + "data:" + runID
}

// allRunsKey returns the Redis key for the creation-time index
func (s *RedisRunStore) allRunsKey() string {
	return s.keyPrefix + "all"
}

// Create persists a new run
func (s *RedisRunStore) Create(ctx context.Context, run *Run) error {
	if run == nil {
		return ErrInvalidInput
	}
	if err := ValidateRunID(run.ID); err != nil {
		return err
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.runKey(run.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyExists
	}

	return s.client.ZAdd(ctx, s.allRunsKey(), redis.Z{
		Score:  float64(run.CreatedAt.UnixNano()),
		Member: run.ID,
	}).Err()
}

// Get retrieves a run by ID
func (s *RedisRunStore) Get(ctx context.Context, runID string) (*Run, error) {
	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRun(data)
}

// Update merges u into the stored run with optimistic locking
func (s *RedisRunStore) Update(ctx context.Context, runID string, u Update) (*Run, error) {
	key := s.runKey(runID)
	var result *Run

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		run, err := decodeRun(data)
		if err != nil {
			return err
		}
		if err := run.Apply(u); err != nil {
			return err
		}
		next, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err == nil {
			result = run
		}
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		s.logger.Debug("run update conflict, retrying",
			zap.String("run_id", runID),
			zap.Int("attempt", i+1))
	}
	return nil, fmt.Errorf("%w: run %s after %d attempts", ErrConflict, runID, s.maxRetries)
}

// List retrieves runs matching the filter
func (s *RedisRunStore) List(ctx context.Context, filter RunFilter) ([]*Run, error) {
	ids, err := s.client.ZRevRange(ctx, s.allRunsKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*Run{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	runs := make([]*Run, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		run, err := decodeRun([]byte(str))
		if err != nil {
			s.logger.Warn("skipping undecodable run", zap.String("run_id", ids[i]), zap.Error(err))
			continue
		}
		runs = append(runs, run)
	}
	return applyFilter(runs, filter), nil
}

func decodeRun(data []byte) (*Run, error) {
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	if run.Steps == nil {
		run.Steps = make(map[string]StepResult)
	}
	return &run, nil
}
