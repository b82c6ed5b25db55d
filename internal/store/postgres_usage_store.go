package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresUsageStore implements UsageStore using PostgreSQL
type PostgresUsageStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresUsageStore creates a new PostgreSQL usage store
func NewPostgresUsageStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresUsageStore {
	return &PostgresUsageStore{
		pool:   pool,
		logger: logger,
	}
}

// RecordUsage stores one component access
func (s *PostgresUsageStore) RecordUsage(ctx context.Context, record *model.UsageRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CallerID == "" {
		record.CallerID = "system"
	}
	if record.AccessedAt.IsZero() {
		record.AccessedAt = time.Now()
	}

	query := `
		INSERT INTO module_usage (id, org_id, module_name, route, load_time_ms, accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		record.ID,
		record.CallerID,
		record.Component,
		nullString(record.Route),
		nullInt64(record.LoadTimeMs),
		record.AccessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	return nil
}

// ModuleStats aggregates usage of a component per hour of day
func (s *PostgresUsageStore) ModuleStats(ctx context.Context, component, callerID string, days int) (*model.ModuleUsageSummary, error) {
	query := `
		SELECT EXTRACT(HOUR FROM accessed_at)::int AS hour,
		       COUNT(*),
		       COALESCE(SUM(load_time_ms), 0)::bigint,
		       COUNT(load_time_ms)
		FROM module_usage
		WHERE module_name = $1
		  AND accessed_at > $2
		  AND ($3::text = '' OR org_id = $3)
		GROUP BY hour
	`

	rows, err := s.pool.Query(ctx, query, component, daysAgo(time.Now(), days), callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get module stats: %w", err)
	}
	defer rows.Close()

	agg := newUsageAggregator()
	for rows.Next() {
		var hour, count, timedCount int
		var loadSum int64
		if err := rows.Scan(&hour, &count, &loadSum, &timedCount); err != nil {
			return nil, fmt.Errorf("failed to scan module stats: %w", err)
		}
		agg.addHour(hour, count, loadSum, timedCount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read module stats: %w", err)
	}

	return agg.summary(), nil
}

// UsageCounts groups accesses per component since the given time
func (s *PostgresUsageStore) UsageCounts(ctx context.Context, since time.Time) ([]model.UsageCount, error) {
	query := `
		SELECT module_name, COUNT(*) AS access_count, COALESCE(AVG(load_time_ms), 0)::float8
		FROM module_usage
		WHERE accessed_at > $1
		GROUP BY module_name
		ORDER BY access_count DESC, module_name ASC
	`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage counts: %w", err)
	}
	defer rows.Close()

	counts := make([]model.UsageCount, 0)
	for rows.Next() {
		var c model.UsageCount
		if err := rows.Scan(&c.Component, &c.AccessCount, &c.AvgLoadTimeMs); err != nil {
			return nil, fmt.Errorf("failed to scan usage count: %w", err)
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

// CountSince counts accesses of one component after the given time
func (s *PostgresUsageStore) CountSince(ctx context.Context, component string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM module_usage WHERE module_name = $1 AND accessed_at > $2`

	var count int
	if err := s.pool.QueryRow(ctx, query, component, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}

	return count, nil
}

// CleanupUsage deletes usage records older than cutoff
func (s *PostgresUsageStore) CleanupUsage(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM module_usage WHERE accessed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup usage: %w", err)
	}

	return result.RowsAffected(), nil
}

// Ping checks the database connection
func (s *PostgresUsageStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// usageAggregator folds hourly buckets into a ModuleUsageSummary
type usageAggregator struct {
	byHour     map[int]int
	total      int
	loadSum    int64
	timedCount int
}

func newUsageAggregator() *usageAggregator {
	return &usageAggregator{byHour: make(map[int]int)}
}

func (a *usageAggregator) addHour(hour, count int, loadSum int64, timedCount int) {
	a.byHour[hour] += count
	a.total += count
	a.loadSum += loadSum
	a.timedCount += timedCount
}

func (a *usageAggregator) summary() *model.ModuleUsageSummary {
	// earliest hour wins ties
	peakHour, peakCount := 0, 0
	for h := 0; h < 24; h++ {
		if a.byHour[h] > peakCount {
			peakHour, peakCount = h, a.byHour[h]
		}
	}

	var avg int64
	if a.timedCount > 0 {
		avg = (a.loadSum + int64(a.timedCount)/2) / int64(a.timedCount)
	}

	return &model.ModuleUsageSummary{
		TotalAccesses:  a.total,
		AvgLoadTimeMs:  avg,
		PeakHour:       peakHour,
		AccessesByHour: a.byHour,
	}
}
