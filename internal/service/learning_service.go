package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/gomo-hub/startup-optimizer/internal/store"
	"go.uber.org/zap"
)

const (
	learningAgentID     = "learning-pass"
	defaultLearningDays = 7
)

// LearningService reassigns tiers from persisted usage over a trailing window
type LearningService struct {
	registry  *RegistryService
	usage     store.UsageStore
	decisions *DecisionService
	window    int
	now       func() time.Time
	logger    *zap.Logger
}

// NewLearningService creates a learning pass over windowDays of usage
func NewLearningService(registry *RegistryService, usage store.UsageStore, decisions *DecisionService, windowDays int, logger *zap.Logger) *LearningService {
	if windowDays <= 0 {
		windowDays = defaultLearningDays
	}
	return &LearningService{
		registry:  registry,
		usage:     usage,
		decisions: decisions,
		window:    windowDays,
		now:       time.Now,
		logger:    logger,
	}
}

// OptimalTier maps an access count and mean load time to a tier
func OptimalTier(accessCount int, avgLoadTimeMs float64) model.Tier {
	switch {
	case accessCount >= 50:
		return model.TierInstant
	case accessCount >= 20:
		return model.TierEssential
	case accessCount >= 10:
		return model.TierBackground
	case accessCount < 5 && avgLoadTimeMs > 100:
		return model.TierLazy
	default:
		return model.TierBackground
	}
}

// ApplyLearnedTiers moves registered components to their optimal tier, then
// demotes unloaded components nobody used in the window to LAZY
func (l *LearningService) ApplyLearnedTiers(ctx context.Context) (model.RelearnResult, error) {
	result := model.RelearnResult{Promoted: make([]string, 0), Demoted: make([]string, 0)}
	if l.usage == nil {
		return result, nil
	}

	windowStart := l.now().AddDate(0, 0, -l.window)
	counts, err := l.usage.UsageCounts(ctx, windowStart)
	if err != nil {
		return result, fmt.Errorf("failed to load usage counts: %w", err)
	}
	if len(counts) == 0 {
		l.logger.Info("No usage data yet, keeping configured tiers")
		return result, nil
	}

	l.logger.Info("Learning tiers from usage", zap.Int("components", len(counts)))

	for _, c := range counts {
		reg, ok := l.registry.Get(c.Component)
		if !ok {
			continue
		}
		optimal := OptimalTier(c.AccessCount, c.AvgLoadTimeMs)
		if optimal == reg.Tier {
			continue
		}

		l.registry.SetTier(c.Component, optimal)
		l.logger.Info("Learned component tier",
			zap.String("component", c.Component),
			zap.String("from", reg.Tier.String()),
			zap.String("to", optimal.String()),
			zap.Int("accesses", c.AccessCount),
			zap.Int64("avg_load_ms", int64(math.Round(c.AvgLoadTimeMs))))

		if optimal < reg.Tier {
			result.Promoted = append(result.Promoted, c.Component)
		} else {
			result.Demoted = append(result.Demoted, c.Component)
		}
		l.record(ctx, c.Component, reg.Tier, optimal, model.DecisionOptimize,
			fmt.Sprintf("Learned from %d accesses in %d days", c.AccessCount, l.window))
	}

	demoted, err := l.demoteUnused(ctx, windowStart)
	result.Demoted = append(result.Demoted, demoted...)
	if err != nil {
		return result, err
	}
	return result, nil
}

func (l *LearningService) demoteUnused(ctx context.Context, windowStart time.Time) ([]string, error) {
	var demoted []string
	for _, reg := range l.registry.Unloaded() {
		if reg.Tier >= model.TierLazy {
			continue
		}
		n, err := l.usage.CountSince(ctx, reg.Name, windowStart)
		if err != nil {
			return demoted, fmt.Errorf("failed to count usage of %s: %w", reg.Name, err)
		}
		if n != 0 {
			continue
		}

		l.registry.SetTier(reg.Name, model.TierLazy)
		demoted = append(demoted, reg.Name)
		l.logger.Info("Demoted unused component",
			zap.String("component", reg.Name),
			zap.String("from", reg.Tier.String()))
		l.record(ctx, reg.Name, reg.Tier, model.TierLazy, model.DecisionDemote,
			fmt.Sprintf("No accesses in %d days", l.window))
	}
	return demoted, nil
}

func (l *LearningService) record(ctx context.Context, name string, from, to model.Tier, kind model.DecisionType, reason string) {
	if l.decisions == nil {
		return
	}
	_ = l.decisions.RecordDecision(ctx, &model.TierDecision{
		Component:    name,
		FromTier:     from.String(),
		ToTier:       to.String(),
		DecisionType: kind,
		AgentID:      learningAgentID,
		Reason:       reason,
	})
}

// Relearn runs a learning pass on demand. Failures are logged; the partial
// result is still returned.
func (l *LearningService) Relearn(ctx context.Context) model.RelearnResult {
	result, err := l.ApplyLearnedTiers(ctx)
	if err != nil {
		l.logger.Warn("Learning pass incomplete", zap.Error(err))
	}
	return result
}
