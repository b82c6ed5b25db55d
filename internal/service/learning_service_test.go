package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/gomo-hub/startup-optimizer/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOptimalTier(t *testing.T) {
	tests := []struct {
		count    int
		avgLoad  float64
		expected model.Tier
	}{
		{50, 0, model.TierInstant},
		{49, 0, model.TierEssential},
		{20, 500, model.TierEssential},
		{19, 0, model.TierBackground},
		{10, 0, model.TierBackground},
		{9, 500, model.TierBackground},
		{4, 101, model.TierLazy},
		{4, 100, model.TierBackground},
		{0, 0, model.TierBackground},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, OptimalTier(tt.count, tt.avgLoad), "count=%d avg=%v", tt.count, tt.avgLoad)
	}
}

func seedUsage(t *testing.T, mem *store.MemoryStore, component string, n int, loadMs int64, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, mem.RecordUsage(context.Background(), &model.UsageRecord{
			Component:  component,
			LoadTimeMs: loadMs,
			AccessedAt: at,
		}))
	}
}

func TestLearningService_ApplyLearnedTiers(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore().WithClock(func() time.Time { return now })

	seedUsage(t, mem, "dashboard", 55, 10, now.Add(-time.Hour))
	seedUsage(t, mem, "reports", 3, 400, now.Add(-2*time.Hour))
	seedUsage(t, mem, "steady", 12, 10, now.Add(-time.Hour))
	seedUsage(t, mem, "stale", 30, 10, now.AddDate(0, 0, -8))
	seedUsage(t, mem, "unregistered", 60, 10, now.Add(-time.Hour))

	f := newDecisionFixture(mem,
		reg("dashboard", model.TierLazy),
		reg("reports", model.TierBackground),
		reg("steady", model.TierBackground),
		reg("stale", model.TierEssential),
		reg("boot", model.TierInstant),
		reg("archive", model.TierDormant))
	f.registry.MarkLoaded("boot")

	learner := NewLearningService(f.registry, mem, f.decisions, 7, zap.NewNop())
	learner.now = func() time.Time { return now }

	result, err := learner.ApplyLearnedTiers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"dashboard"}, result.Promoted)
	assert.ElementsMatch(t, []string{"reports", "stale"}, result.Demoted)

	tierOf := func(name string) model.Tier {
		r, ok := f.registry.Get(name)
		require.True(t, ok)
		return r.Tier
	}
	assert.Equal(t, model.TierInstant, tierOf("dashboard"))
	assert.Equal(t, model.TierLazy, tierOf("reports"))
	assert.Equal(t, model.TierBackground, tierOf("steady"))
	assert.Equal(t, model.TierLazy, tierOf("stale"), "unused in window")
	assert.Equal(t, model.TierInstant, tierOf("boot"), "loaded components are never demoted")
	assert.Equal(t, model.TierDormant, tierOf("archive"))

	history, err := mem.DecisionHistory(context.Background(), store.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, history, 3)

	types := map[string]model.DecisionType{}
	for _, d := range history {
		types[d.Component] = d.DecisionType
		assert.Equal(t, learningAgentID, d.AgentID)
	}
	assert.Equal(t, model.DecisionOptimize, types["dashboard"])
	assert.Equal(t, model.DecisionOptimize, types["reports"])
	assert.Equal(t, model.DecisionDemote, types["stale"])
}

func TestLearningService_NoUsageKeepsTiers(t *testing.T) {
	mem := store.NewMemoryStore()
	f := newDecisionFixture(mem, reg("a", model.TierEssential))

	learner := NewLearningService(f.registry, mem, f.decisions, 0, zap.NewNop())
	result := learner.Relearn(context.Background())

	assert.Empty(t, result.Promoted)
	assert.Empty(t, result.Demoted)
	r, _ := f.registry.Get("a")
	assert.Equal(t, model.TierEssential, r.Tier)
}

func TestLearningService_StoreFailure(t *testing.T) {
	usage := new(MockUsageStore)
	usage.On("UsageCounts", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	registry := NewRegistryService(zap.NewNop())
	learner := NewLearningService(registry, usage, nil, 7, zap.NewNop())

	_, err := learner.ApplyLearnedTiers(context.Background())
	assert.Error(t, err)

	result := learner.Relearn(context.Background())
	assert.Empty(t, result.Promoted)
}

func TestLearningService_NilStore(t *testing.T) {
	learner := NewLearningService(NewRegistryService(zap.NewNop()), nil, nil, 7, zap.NewNop())
	result, err := learner.ApplyLearnedTiers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Demoted)
}
