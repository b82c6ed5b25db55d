package store

import (
	"context"
	"errors"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/model"
)

// ErrNotFound is returned when a record or snapshot does not exist
var ErrNotFound = errors.New("not found")

// UsageStore persists individual component accesses
type UsageStore interface {
	RecordUsage(ctx context.Context, record *model.UsageRecord) error
	// ModuleStats aggregates the last `days` of usage; an empty callerID matches every caller
	ModuleStats(ctx context.Context, component, callerID string, days int) (*model.ModuleUsageSummary, error)
	// UsageCounts groups accesses since the given time, busiest first
	UsageCounts(ctx context.Context, since time.Time) ([]model.UsageCount, error)
	CountSince(ctx context.Context, component string, since time.Time) (int, error)
	// CleanupUsage deletes records accessed before cutoff and returns how many were removed
	CleanupUsage(ctx context.Context, cutoff time.Time) (int64, error)
}

// DecisionFilter narrows DecisionHistory. Zero values do not filter.
type DecisionFilter struct {
	Component    string
	DecisionType model.DecisionType
	DaysBack     int
	Limit        int
}

// DecisionLedger records tier decisions and their validated outcome
type DecisionLedger interface {
	RecordDecision(ctx context.Context, decision *model.TierDecision) error
	ValidateDecision(ctx context.Context, id string, wasEffective bool, timeToUseMs *int64) error
	// DecisionHistory returns matching decisions, newest first
	DecisionHistory(ctx context.Context, filter DecisionFilter) ([]*model.TierDecision, error)
	DecisionEffectiveness(ctx context.Context) (*model.DecisionEffectiveness, error)
	CleanupDecisions(ctx context.Context, cutoff time.Time) (int64, error)
}

// PatternStore persists aggregated usage patterns
type PatternStore interface {
	// SavePattern upserts by (component, type, hour, related component, caller)
	SavePattern(ctx context.Context, pattern *model.UsagePattern) error
	Patterns(ctx context.Context, component, callerID string) ([]*model.UsagePattern, error)
	// SequencePatterns returns SEQUENCE patterns with confidence strictly above minConfidence
	SequencePatterns(ctx context.Context, minConfidence int) ([]model.SequencePattern, error)
	// HotModulesAtHour returns components with a HOT hourly pattern for the hour, busiest first
	HotModulesAtHour(ctx context.Context, hour int) ([]string, error)
	// ClassifyModules buckets components by access count over the period and saves the result
	ClassifyModules(ctx context.Context, periodDays int) (map[string]model.Classification, error)
}

// StatsSnapshotStore keeps analyzer statistics across restarts
type StatsSnapshotStore interface {
	SaveStats(ctx context.Context, stats []*model.ComponentUsageStats) error
	// LoadStats returns ErrNotFound when no snapshot exists
	LoadStats(ctx context.Context) ([]*model.ComponentUsageStats, error)
}

// Pinger is implemented by stores backed by a remote service
type Pinger interface {
	Ping(ctx context.Context) error
}

// Classify buckets one count against the average of all counts
func Classify(count int, avg float64) model.Classification {
	switch {
	case float64(count) > avg*2:
		return model.ClassificationHot
	case float64(count) > avg*0.5:
		return model.ClassificationWarm
	default:
		return model.ClassificationCold
	}
}

// ClassificationConfidence is the share of all accesses plus 50, capped at 95
func ClassificationConfidence(count, total int) int {
	if total <= 0 {
		return 50
	}
	c := int(float64(count)/float64(total)*100 + 50 + 0.5)
	if c > 95 {
		return 95
	}
	return c
}

// SequenceConfidence is ten points per occurrence, capped at 100
func SequenceConfidence(occurrences int) int {
	if occurrences*10 > 100 {
		return 100
	}
	return occurrences * 10
}

func daysAgo(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}
