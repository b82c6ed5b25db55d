package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStatsStore implements StatsSnapshotStore for Redis
type RedisStatsStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// RedisConfig holds the snapshot store connection settings
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NewRedisStatsStore connects to Redis and verifies the connection
func NewRedisStatsStore(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStatsStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStatsStoreWithClient(client, cfg.KeyPrefix, cfg.TTL, logger), nil
}

// NewRedisStatsStoreWithClient wraps an existing client
func NewRedisStatsStoreWithClient(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisStatsStore {
	if keyPrefix == "" {
		keyPrefix = "startup-optimizer"
	}
	return &RedisStatsStore{
		client: client,
		key:    keyPrefix + ":usage-stats",
		ttl:    ttl,
		logger: logger,
	}
}

// SaveStats replaces the snapshot
func (s *RedisStatsStore) SaveStats(ctx context.Context, stats []*model.ComponentUsageStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}

	s.logger.Debug("Saved usage stats snapshot",
		zap.String("key", s.key),
		zap.Int("components", len(stats)))

	return nil
}

// LoadStats reads the snapshot, returning ErrNotFound when absent
func (s *RedisStatsStore) LoadStats(ctx context.Context) ([]*model.ComponentUsageStats, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	var stats []*model.ComponentUsageStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
	}

	return stats, nil
}

// Ping checks the Redis connection
func (s *RedisStatsStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisStatsStore) Close() error {
	return s.client.Close()
}
