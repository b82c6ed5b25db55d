package main

import (
	"context"
	"fmt"

	"github.com/gomo-hub/startup-optimizer/internal/config"
	"github.com/gomo-hub/startup-optimizer/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// stores bundles the persistence backends chosen by configuration
type stores struct {
	usage     store.UsageStore
	ledger    store.DecisionLedger
	patterns  store.PatternStore
	snapshots store.StatsSnapshotStore
	pingers   map[string]store.Pinger

	pool  *pgxpool.Pool
	redis *store.RedisStatsStore
}

// openStores connects to PostgreSQL and Redis when enabled. Whatever is not
// configured falls back to a process local memory store.
func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	mem := store.NewMemoryStore()
	s := &stores{
		usage:     mem,
		ledger:    mem,
		patterns:  mem,
		snapshots: mem,
		pingers:   make(map[string]store.Pinger),
	}

	if cfg.Database.Enabled {
		pool, err := store.NewPostgresPool(ctx, store.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			Database:        cfg.Database.Database,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			MaxConnections:  cfg.Database.MaxConnections,
			MinConnections:  cfg.Database.MinConnections,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open usage database: %w", err)
		}
		s.pool = pool

		usage := store.NewPostgresUsageStore(pool, logger)
		s.usage = usage
		s.ledger = store.NewPostgresDecisionStore(pool, logger)
		s.patterns = store.NewPostgresPatternStore(pool, logger)
		s.pingers["postgres"] = usage

		logger.Info("Usage database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Database))
	}

	if cfg.Redis.Enabled {
		rs, err := store.NewRedisStatsStore(ctx, store.RedisConfig{
			Host:      cfg.Redis.Host,
			Port:      cfg.Redis.Port,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.SnapshotTTL,
		}, logger)
		if err != nil {
			s.close(logger)
			return nil, fmt.Errorf("failed to open snapshot store: %w", err)
		}
		s.redis = rs
		s.snapshots = rs
		s.pingers["redis"] = rs

		logger.Info("Snapshot store connected",
			zap.String("host", cfg.Redis.Host),
			zap.Int("port", cfg.Redis.Port))
	}

	return s, nil
}

func (s *stores) close(logger *zap.Logger) {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.Warn("Failed to close snapshot store", zap.Error(err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
