package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/google/uuid"
)

// MemoryStore implements every store interface in process memory. It backs
// single-node deployments without a database and the service tests.
type MemoryStore struct {
	mu        sync.RWMutex
	usage     []*model.UsageRecord
	decisions []*model.TierDecision
	patterns  []*model.UsagePattern
	stats     []*model.ComponentUsageStats
	hasStats  bool
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// WithClock replaces the time source
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// RecordUsage stores one access
func (s *MemoryStore) RecordUsage(_ context.Context, record *model.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *record
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CallerID == "" {
		r.CallerID = "system"
	}
	if r.AccessedAt.IsZero() {
		r.AccessedAt = s.now()
	}
	s.usage = append(s.usage, &r)
	return nil
}

// ModuleStats aggregates usage of a component per hour of day
func (s *MemoryStore) ModuleStats(_ context.Context, component, callerID string, days int) (*model.ModuleUsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := daysAgo(s.now(), days)
	agg := newUsageAggregator()
	for _, r := range s.usage {
		if r.Component != component || !r.AccessedAt.After(since) {
			continue
		}
		if callerID != "" && r.CallerID != callerID {
			continue
		}
		timed := 0
		if r.LoadTimeMs > 0 {
			timed = 1
		}
		agg.addHour(r.AccessedAt.Hour(), 1, max(r.LoadTimeMs, 0), timed)
	}
	return agg.summary(), nil
}

// UsageCounts groups accesses per component since the given time, busiest first
func (s *MemoryStore) UsageCounts(_ context.Context, since time.Time) ([]model.UsageCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		count   int
		loadSum int64
		timed   int
	}
	byName := make(map[string]*acc)
	for _, r := range s.usage {
		if !r.AccessedAt.After(since) {
			continue
		}
		a, ok := byName[r.Component]
		if !ok {
			a = &acc{}
			byName[r.Component] = a
		}
		a.count++
		if r.LoadTimeMs > 0 {
			a.loadSum += r.LoadTimeMs
			a.timed++
		}
	}

	counts := make([]model.UsageCount, 0, len(byName))
	for name, a := range byName {
		c := model.UsageCount{Component: name, AccessCount: a.count}
		if a.timed > 0 {
			c.AvgLoadTimeMs = float64(a.loadSum) / float64(a.timed)
		}
		counts = append(counts, c)
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].AccessCount != counts[j].AccessCount {
			return counts[i].AccessCount > counts[j].AccessCount
		}
		return counts[i].Component < counts[j].Component
	})
	return counts, nil
}

// CountSince counts accesses of a component after the given time
func (s *MemoryStore) CountSince(_ context.Context, component string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.usage {
		if r.Component == component && r.AccessedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// CleanupUsage deletes records accessed before cutoff
func (s *MemoryStore) CleanupUsage(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.usage[:0]
	var removed int64
	for _, r := range s.usage {
		if r.AccessedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.usage = kept
	return removed, nil
}

// RecordDecision stores a decision, filling ID, timestamp and default confidence
func (s *MemoryStore) RecordDecision(_ context.Context, d *model.TierDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = s.now()
	}
	if d.Confidence == 0 {
		d.Confidence = model.DefaultDecisionConfidence
	}
	c := *d
	s.decisions = append(s.decisions, &c)
	return nil
}

// ValidateDecision records the observed outcome of a decision
func (s *MemoryStore) ValidateDecision(_ context.Context, id string, wasEffective bool, timeToUseMs *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.decisions {
		if d.ID != id {
			continue
		}
		effective := wasEffective
		validatedAt := s.now()
		d.WasEffective = &effective
		d.ValidatedAt = &validatedAt
		d.TimeToUseMs = nil
		if timeToUseMs != nil {
			t := *timeToUseMs
			d.TimeToUseMs = &t
		}
		return nil
	}
	return fmt.Errorf("decision %s: %w", id, ErrNotFound)
}

// DecisionHistory lists matching decisions, newest first
func (s *MemoryStore) DecisionHistory(_ context.Context, filter DecisionFilter) ([]*model.TierDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var since time.Time
	if filter.DaysBack > 0 {
		since = daysAgo(s.now(), filter.DaysBack)
	}

	out := make([]*model.TierDecision, 0)
	for _, d := range s.decisions {
		if filter.Component != "" && d.Component != filter.Component {
			continue
		}
		if filter.DecisionType != "" && d.DecisionType != filter.DecisionType {
			continue
		}
		if filter.DaysBack > 0 && !d.DecidedAt.After(since) {
			continue
		}
		c := *d
		out = append(out, &c)
	}

	// newest first; insertion order reversed on equal timestamps
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DecidedAt.After(out[j].DecidedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// DecisionEffectiveness summarizes validated decisions
func (s *MemoryStore) DecisionEffectiveness(_ context.Context) (*model.DecisionEffectiveness, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var validated, effective int
	var timeToUseSum int64
	for _, d := range s.decisions {
		if d.WasEffective == nil {
			continue
		}
		validated++
		if *d.WasEffective {
			effective++
			if d.TimeToUseMs != nil {
				timeToUseSum += *d.TimeToUseMs
			}
		}
	}
	return effectivenessFrom(len(s.decisions), validated, effective, timeToUseSum), nil
}

// CleanupDecisions deletes decisions older than cutoff
func (s *MemoryStore) CleanupDecisions(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.decisions[:0]
	var removed int64
	for _, d := range s.decisions {
		if d.DecidedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	s.decisions = kept
	return removed, nil
}

// SavePattern inserts or merges a pattern. Counts accumulate except for
// CLASSIFICATION and snapshot patterns, which keep the latest count.
func (s *MemoryStore) SavePattern(_ context.Context, p *model.UsagePattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, existing := range s.patterns {
		if !samePatternKey(existing, p) {
			continue
		}
		if p.PatternType == model.PatternClassification || p.Snapshot {
			existing.Count = p.Count
		} else {
			existing.Count += p.Count
		}
		if p.AvgResponseTimeMs != nil {
			var prev int64
			if existing.AvgResponseTimeMs != nil {
				prev = *existing.AvgResponseTimeMs
			}
			avg := (prev + *p.AvgResponseTimeMs + 1) / 2
			existing.AvgResponseTimeMs = &avg
		}
		if p.Confidence > 0 {
			existing.Confidence = p.Confidence
		}
		if p.Classification != "" {
			existing.Classification = p.Classification
		}
		existing.UpdatedAt = now
		p.ID = existing.ID
		return nil
	}

	c := *p
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Confidence == 0 {
		c.Confidence = 50
	}
	if p.Hour != nil {
		h := *p.Hour
		c.Hour = &h
	}
	if p.AvgResponseTimeMs != nil {
		v := *p.AvgResponseTimeMs
		c.AvgResponseTimeMs = &v
	}
	c.UpdatedAt = now
	p.ID = c.ID
	s.patterns = append(s.patterns, &c)
	return nil
}

func samePatternKey(a, b *model.UsagePattern) bool {
	if a.Component != b.Component || a.PatternType != b.PatternType ||
		a.RelatedComponent != b.RelatedComponent || a.CallerID != b.CallerID {
		return false
	}
	if a.Hour == nil || b.Hour == nil {
		return a.Hour == nil && b.Hour == nil
	}
	return *a.Hour == *b.Hour
}

// Patterns lists the stored patterns of a component
func (s *MemoryStore) Patterns(_ context.Context, component, callerID string) ([]*model.UsagePattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.UsagePattern, 0)
	for _, p := range s.patterns {
		if p.Component != component {
			continue
		}
		if callerID != "" && p.CallerID != callerID {
			continue
		}
		c := *p
		out = append(out, &c)
	}
	return out, nil
}

// SequencePatterns lists A→B patterns above the confidence floor, most frequent first
func (s *MemoryStore) SequencePatterns(_ context.Context, minConfidence int) ([]model.SequencePattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.SequencePattern, 0)
	for _, p := range s.patterns {
		if p.PatternType != model.PatternSequence || p.Confidence <= minConfidence {
			continue
		}
		out = append(out, model.SequencePattern{
			From:       p.Component,
			To:         p.RelatedComponent,
			Count:      p.Count,
			Confidence: p.Confidence,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

// HotModulesAtHour lists components with a HOT hourly pattern at the hour
func (s *MemoryStore) HotModulesAtHour(_ context.Context, hour int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hot := make([]*model.UsagePattern, 0)
	for _, p := range s.patterns {
		if p.PatternType == model.PatternHourly && p.Hour != nil && *p.Hour == hour &&
			p.Classification == model.ClassificationHot {
			hot = append(hot, p)
		}
	}
	sort.SliceStable(hot, func(i, j int) bool { return hot[i].Count > hot[j].Count })

	names := make([]string, 0, len(hot))
	for _, p := range hot {
		names = append(names, p.Component)
	}
	return names, nil
}

// ClassifyModules buckets components into HOT/WARM/COLD over the period
func (s *MemoryStore) ClassifyModules(ctx context.Context, periodDays int) (map[string]model.Classification, error) {
	counts, err := s.UsageCounts(ctx, daysAgo(s.now(), periodDays))
	if err != nil {
		return nil, err
	}
	return classifyCounts(ctx, counts, s.SavePattern)
}

// SaveStats replaces the stats snapshot
func (s *MemoryStore) SaveStats(_ context.Context, stats []*model.ComponentUsageStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats = cloneStats(stats)
	s.hasStats = true
	return nil
}

// LoadStats returns the snapshot or ErrNotFound
func (s *MemoryStore) LoadStats(_ context.Context) ([]*model.ComponentUsageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasStats {
		return nil, ErrNotFound
	}
	return cloneStats(s.stats), nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func cloneStats(stats []*model.ComponentUsageStats) []*model.ComponentUsageStats {
	out := make([]*model.ComponentUsageStats, 0, len(stats))
	for _, st := range stats {
		out = append(out, st.Clone())
	}
	return out
}
