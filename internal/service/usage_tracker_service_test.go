package service

import (
	"context"
	"testing"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/gomo-hub/startup-optimizer/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockUsageStore is a mock implementation of store.UsageStore
type MockUsageStore struct {
	mock.Mock
}

func (m *MockUsageStore) RecordUsage(ctx context.Context, record *model.UsageRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockUsageStore) ModuleStats(ctx context.Context, component, callerID string, days int) (*model.ModuleUsageSummary, error) {
	args := m.Called(ctx, component, callerID, days)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ModuleUsageSummary), args.Error(1)
}

func (m *MockUsageStore) UsageCounts(ctx context.Context, since time.Time) ([]model.UsageCount, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.UsageCount), args.Error(1)
}

func (m *MockUsageStore) CountSince(ctx context.Context, component string, since time.Time) (int, error) {
	args := m.Called(ctx, component, since)
	return args.Int(0), args.Error(1)
}

func (m *MockUsageStore) CleanupUsage(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func TestUsageTracker_TrackPersistsAsync(t *testing.T) {
	mem := store.NewMemoryStore()
	patterns := NewPatternService(PatternConfig{}, nil, zap.NewNop())
	tracker := NewUsageTracker(patterns, nil, mem, UsageTrackerConfig{Workers: 2, QueueSize: 10}, nil, zap.NewNop())

	tracker.Track("billing", "/billing/1", 25, "")
	tracker.Track("billing", "/billing/2", 35, "org-9")
	tracker.Track("", "/nothing", 1, "")

	require.NoError(t, tracker.Stop(context.Background()))

	st, ok := patterns.Stats("billing")
	require.True(t, ok)
	assert.Equal(t, 2, st.TotalAccesses)
	assert.Equal(t, map[string]int{"org-9": 1}, st.AccessByCaller)

	summary, err := mem.ModuleStats(context.Background(), "billing", DefaultCallerID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalAccesses, "empty caller is stored as system")

	all, err := mem.ModuleStats(context.Background(), "billing", "", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, all.TotalAccesses)

	assert.Equal(t, uint64(2), tracker.Stats().Completed)
}

func TestUsageTracker_MarksPreloadsUsed(t *testing.T) {
	f := newDecisionFixture(nil, reg("X", model.TierLazy))
	f.init.On("Initialize", mock.Anything, "X").Return(nil)
	f.decisions.Preload(context.Background(), []string{"X"})

	tracker := NewUsageTracker(f.patterns, f.decisions, nil, UsageTrackerConfig{}, nil, zap.NewNop())
	tracker.Track("X", "/x", 5, "")

	assert.Equal(t, 1, f.decisions.PreloadMetrics().UsedPreloads)
	assert.NoError(t, tracker.Stop(context.Background()))
	assert.Equal(t, "usage-tracker", tracker.Stats().Name)
}

func TestUsageTracker_PreloadsSequenceFollowers(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		wantLoaded bool
	}{
		{name: "enabled preloads follower", enabled: true, wantLoaded: true},
		{name: "disabled leaves follower", enabled: false, wantLoaded: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDecisionFixture(nil, reg("A", model.TierLazy), reg("B", model.TierLazy))
			f.init.On("Initialize", mock.Anything, "B").Return(nil)
			f.patterns.now = steppingClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), 10*time.Second)

			tracker := NewUsageTracker(f.patterns, f.decisions, nil,
				UsageTrackerConfig{PreloadFollowers: tt.enabled}, nil, zap.NewNop())

			// three A->B transitions make B a follower of A
			for i := 0; i < 3; i++ {
				f.patterns.RecordAccess("A", 10, "")
				f.patterns.RecordAccess("B", 10, "")
			}

			tracker.Track("A", "/a", 10, "")
			require.NoError(t, tracker.Stop(context.Background()))

			assert.Equal(t, tt.wantLoaded, f.registry.IsLoaded("B"))
			assert.False(t, f.registry.IsLoaded("A"), "tracking does not load the accessed component")
		})
	}
}

func TestUsageTracker_QueueFullDrops(t *testing.T) {
	release := make(chan struct{})
	usage := new(MockUsageStore)
	usage.On("RecordUsage", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(nil)

	patterns := NewPatternService(PatternConfig{}, nil, zap.NewNop())
	tracker := NewUsageTracker(patterns, nil, usage, UsageTrackerConfig{Workers: 1, QueueSize: 1}, nil, zap.NewNop())

	tracker.Track("a", "/a", 1, "")
	require.Eventually(t, func() bool { return tracker.Stats().Active == 1 }, time.Second, time.Millisecond)

	tracker.Track("a", "/a", 1, "") // queued
	tracker.Track("a", "/a", 1, "") // dropped

	close(release)
	require.NoError(t, tracker.Stop(context.Background()))

	stats := tracker.Stats()
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, uint64(2), stats.Completed)

	st, _ := patterns.Stats("a")
	assert.Equal(t, 3, st.TotalAccesses, "analyzer sees every access even when persistence drops")
}
