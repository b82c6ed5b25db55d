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

// PostgresDecisionStore implements DecisionLedger using PostgreSQL
type PostgresDecisionStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresDecisionStore creates a new PostgreSQL decision ledger
func NewPostgresDecisionStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresDecisionStore {
	return &PostgresDecisionStore{
		pool:   pool,
		logger: logger,
	}
}

// RecordDecision inserts a decision, filling ID, timestamp and default confidence
func (s *PostgresDecisionStore) RecordDecision(ctx context.Context, d *model.TierDecision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now()
	}
	if d.Confidence == 0 {
		d.Confidence = model.DefaultDecisionConfidence
	}

	query := `
		INSERT INTO tier_decisions (
			id, org_id, module_name, from_tier, to_tier, decision_type,
			agent_id, reason, confidence, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		d.ID,
		nullString(d.CallerID),
		d.Component,
		nullString(d.FromTier),
		d.ToTier,
		string(d.DecisionType),
		nullString(d.AgentID),
		nullString(d.Reason),
		d.Confidence,
		d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}

	s.logger.Info("Recorded tier decision",
		zap.String("decision_type", string(d.DecisionType)),
		zap.String("component", d.Component),
		zap.String("to_tier", d.ToTier))

	return nil
}

// ValidateDecision stores the observed outcome of a decision
func (s *PostgresDecisionStore) ValidateDecision(ctx context.Context, id string, wasEffective bool, timeToUseMs *int64) error {
	query := `
		UPDATE tier_decisions
		SET was_effective = $2, time_to_use_ms = $3, validated_at = $4
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query, id, wasEffective, timeToUseMs, time.Now())
	if err != nil {
		return fmt.Errorf("failed to validate decision: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}

	return nil
}

// DecisionHistory lists decisions newest first
func (s *PostgresDecisionStore) DecisionHistory(ctx context.Context, filter DecisionFilter) ([]*model.TierDecision, error) {
	query := `
		SELECT id, COALESCE(org_id, ''), module_name, COALESCE(from_tier, ''), to_tier,
		       decision_type, COALESCE(agent_id, ''), COALESCE(reason, ''), confidence,
		       was_effective, time_to_use_ms, decided_at, validated_at
		FROM tier_decisions
		WHERE 1=1
	`
	args := make([]interface{}, 0)
	argPos := 1

	if filter.Component != "" {
		query += fmt.Sprintf(" AND module_name = $%d", argPos)
		args = append(args, filter.Component)
		argPos++
	}

	if filter.DecisionType != "" {
		query += fmt.Sprintf(" AND decision_type = $%d", argPos)
		args = append(args, string(filter.DecisionType))
		argPos++
	}

	if filter.DaysBack > 0 {
		query += fmt.Sprintf(" AND decided_at > $%d", argPos)
		args = append(args, daysAgo(time.Now(), filter.DaysBack))
		argPos++
	}

	query += " ORDER BY decided_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get decision history: %w", err)
	}
	defer rows.Close()

	decisions := make([]*model.TierDecision, 0)
	for rows.Next() {
		var d model.TierDecision
		var decisionType string
		if err := rows.Scan(
			&d.ID,
			&d.CallerID,
			&d.Component,
			&d.FromTier,
			&d.ToTier,
			&decisionType,
			&d.AgentID,
			&d.Reason,
			&d.Confidence,
			&d.WasEffective,
			&d.TimeToUseMs,
			&d.DecidedAt,
			&d.ValidatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.DecisionType = model.DecisionType(decisionType)
		decisions = append(decisions, &d)
	}

	return decisions, rows.Err()
}

// DecisionEffectiveness summarizes validated decisions across the ledger
func (s *PostgresDecisionStore) DecisionEffectiveness(ctx context.Context) (*model.DecisionEffectiveness, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(was_effective),
		       COUNT(*) FILTER (WHERE was_effective),
		       COALESCE(SUM(time_to_use_ms) FILTER (WHERE was_effective), 0)::bigint
		FROM tier_decisions
	`

	var total, validated, effective int
	var timeToUseSum int64
	if err := s.pool.QueryRow(ctx, query).Scan(&total, &validated, &effective, &timeToUseSum); err != nil {
		return nil, fmt.Errorf("failed to get decision effectiveness: %w", err)
	}

	return effectivenessFrom(total, validated, effective, timeToUseSum), nil
}

// CleanupDecisions deletes decisions older than cutoff
func (s *PostgresDecisionStore) CleanupDecisions(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM tier_decisions WHERE decided_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup decisions: %w", err)
	}

	return result.RowsAffected(), nil
}

// Ping checks the database connection
func (s *PostgresDecisionStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// effectivenessFrom computes the rate over validated decisions and the mean
// time-to-use over effective ones
func effectivenessFrom(total, validated, effective int, timeToUseSum int64) *model.DecisionEffectiveness {
	rate := 0
	if validated > 0 {
		rate = int(float64(effective)/float64(validated)*100 + 0.5)
	}

	divisor := int64(effective)
	if divisor == 0 {
		divisor = 1
	}

	return &model.DecisionEffectiveness{
		Total:             total,
		Validated:         validated,
		Effective:         effective,
		EffectivenessRate: rate,
		AvgTimeToUseMs:    (timeToUseSum + divisor/2) / divisor,
	}
}
