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

// noHour is stored in place of a NULL hour so the upsert key stays unique
const noHour = -1

// PostgresPatternStore implements PatternStore using PostgreSQL
type PostgresPatternStore struct {
	pool   *pgxpool.Pool
	usage  *PostgresUsageStore
	logger *zap.Logger
}

// NewPostgresPatternStore creates a new PostgreSQL pattern store
func NewPostgresPatternStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresPatternStore {
	return &PostgresPatternStore{
		pool:   pool,
		usage:  NewPostgresUsageStore(pool, logger),
		logger: logger,
	}
}

// SavePattern inserts a pattern or merges it into the existing row.
// Counts accumulate except for CLASSIFICATION and snapshot rows, which hold
// the latest count.
func (s *PostgresPatternStore) SavePattern(ctx context.Context, p *model.UsagePattern) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.UpdatedAt = time.Now()

	hour := noHour
	if p.Hour != nil {
		hour = *p.Hour
	}

	var confidence *int
	if p.Confidence > 0 {
		confidence = &p.Confidence
	}

	query := `
		INSERT INTO usage_patterns (
			id, org_id, module_name, pattern_type, hour, related_module,
			count, avg_response_time_ms, confidence, classification, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9::int, 50), $10, $11)
		ON CONFLICT (module_name, pattern_type, hour, related_module, org_id) DO UPDATE SET
			count = CASE
				WHEN usage_patterns.pattern_type = 'CLASSIFICATION' OR $12::boolean THEN EXCLUDED.count
				ELSE usage_patterns.count + EXCLUDED.count
			END,
			avg_response_time_ms = CASE
				WHEN EXCLUDED.avg_response_time_ms IS NULL THEN usage_patterns.avg_response_time_ms
				ELSE ROUND((COALESCE(usage_patterns.avg_response_time_ms, 0) + EXCLUDED.avg_response_time_ms) / 2.0)
			END,
			confidence = COALESCE($9::int, usage_patterns.confidence),
			classification = COALESCE(EXCLUDED.classification, usage_patterns.classification),
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID,
		p.CallerID,
		p.Component,
		string(p.PatternType),
		hour,
		p.RelatedComponent,
		p.Count,
		p.AvgResponseTimeMs,
		confidence,
		nullString(string(p.Classification)),
		p.UpdatedAt,
		p.Snapshot,
	)
	if err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}

	return nil
}

// Patterns lists every stored pattern of a component
func (s *PostgresPatternStore) Patterns(ctx context.Context, component, callerID string) ([]*model.UsagePattern, error) {
	query := `
		SELECT id, org_id, module_name, pattern_type, hour, related_module, count,
		       avg_response_time_ms, confidence, COALESCE(classification, ''), updated_at
		FROM usage_patterns
		WHERE module_name = $1
		  AND ($2::text = '' OR org_id = $2)
		ORDER BY pattern_type, hour, related_module
	`

	rows, err := s.pool.Query(ctx, query, component, callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get patterns: %w", err)
	}
	defer rows.Close()

	patterns := make([]*model.UsagePattern, 0)
	for rows.Next() {
		var p model.UsagePattern
		var patternType, classification string
		var hour int
		if err := rows.Scan(
			&p.ID,
			&p.CallerID,
			&p.Component,
			&patternType,
			&hour,
			&p.RelatedComponent,
			&p.Count,
			&p.AvgResponseTimeMs,
			&p.Confidence,
			&classification,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		p.PatternType = model.PatternType(patternType)
		p.Classification = model.Classification(classification)
		if hour != noHour {
			h := hour
			p.Hour = &h
		}
		patterns = append(patterns, &p)
	}

	return patterns, rows.Err()
}

// SequencePatterns lists A→B patterns above the confidence floor, most frequent first
func (s *PostgresPatternStore) SequencePatterns(ctx context.Context, minConfidence int) ([]model.SequencePattern, error) {
	query := `
		SELECT module_name, related_module, count, confidence
		FROM usage_patterns
		WHERE pattern_type = 'SEQUENCE' AND confidence > $1
		ORDER BY count DESC
	`

	rows, err := s.pool.Query(ctx, query, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("failed to get sequence patterns: %w", err)
	}
	defer rows.Close()

	sequences := make([]model.SequencePattern, 0)
	for rows.Next() {
		var sp model.SequencePattern
		if err := rows.Scan(&sp.From, &sp.To, &sp.Count, &sp.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan sequence pattern: %w", err)
		}
		sequences = append(sequences, sp)
	}

	return sequences, rows.Err()
}

// HotModulesAtHour lists components classified HOT for the given hour
func (s *PostgresPatternStore) HotModulesAtHour(ctx context.Context, hour int) ([]string, error) {
	query := `
		SELECT module_name
		FROM usage_patterns
		WHERE pattern_type = 'HOURLY' AND hour = $1 AND classification = 'HOT'
		ORDER BY count DESC
	`

	rows, err := s.pool.Query(ctx, query, hour)
	if err != nil {
		return nil, fmt.Errorf("failed to get hot modules: %w", err)
	}
	defer rows.Close()

	modules := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan hot module: %w", err)
		}
		modules = append(modules, name)
	}

	return modules, rows.Err()
}

// ClassifyModules buckets components into HOT/WARM/COLD over the period
func (s *PostgresPatternStore) ClassifyModules(ctx context.Context, periodDays int) (map[string]model.Classification, error) {
	counts, err := s.usage.UsageCounts(ctx, daysAgo(time.Now(), periodDays))
	if err != nil {
		return nil, err
	}

	result, err := classifyCounts(ctx, counts, s.SavePattern)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Classified modules", zap.Int("count", len(result)))
	return result, nil
}

// Ping checks the database connection
func (s *PostgresPatternStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// classifyCounts saves one CLASSIFICATION pattern per component
func classifyCounts(
	ctx context.Context,
	counts []model.UsageCount,
	save func(context.Context, *model.UsagePattern) error,
) (map[string]model.Classification, error) {
	result := make(map[string]model.Classification, len(counts))
	if len(counts) == 0 {
		return result, nil
	}

	total := 0
	for _, c := range counts {
		total += c.AccessCount
	}
	avg := float64(total) / float64(len(counts))

	for _, c := range counts {
		class := Classify(c.AccessCount, avg)
		err := save(ctx, &model.UsagePattern{
			Component:      c.Component,
			PatternType:    model.PatternClassification,
			Count:          c.AccessCount,
			Classification: class,
			Confidence:     ClassificationConfidence(c.AccessCount, total),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to save classification for %s: %w", c.Component, err)
		}
		result[c.Component] = class
	}

	return result, nil
}
