package service

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/metrics"
	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/gomo-hub/startup-optimizer/internal/store"
	"go.uber.org/zap"
)

const (
	defaultMaxEvents      = 1000
	defaultSequenceWindow = 60 * time.Second

	topModulesLimit       = 10
	sequencesLimit        = 20
	coldAccessThreshold   = 5
	minSequenceOccurrence = 3
	preloadMinConfidence  = 30
)

// PatternService tracks per-component access statistics and mines access
// sequences from a bounded event log. It never fails; with no data every
// collection is empty.
type PatternService struct {
	mu     sync.Mutex
	stats  map[string]*model.ComponentUsageStats
	order  []string
	events []model.AccessEvent

	maxEvents int
	window    time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// PatternConfig holds analyzer limits
type PatternConfig struct {
	MaxEvents      int
	SequenceWindow time.Duration
}

// NewPatternService creates an empty analyzer
func NewPatternService(cfg PatternConfig, m *metrics.Metrics, logger *zap.Logger) *PatternService {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	if cfg.SequenceWindow <= 0 {
		cfg.SequenceWindow = defaultSequenceWindow
	}
	return &PatternService{
		stats:     make(map[string]*model.ComponentUsageStats),
		events:    make([]model.AccessEvent, 0, cfg.MaxEvents),
		maxEvents: cfg.MaxEvents,
		window:    cfg.SequenceWindow,
		now:       time.Now,
		metrics:   m,
		logger:    logger,
	}
}

// RecordAccess folds one access into the component's statistics and the event log
func (p *PatternService) RecordAccess(component string, responseTimeMs int64, callerID string) {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.stats[component]
	if !ok {
		st = &model.ComponentUsageStats{
			Component:      component,
			AccessByCaller: make(map[string]int),
		}
		p.stats[component] = st
		p.order = append(p.order, component)
	}

	st.TotalAccesses++
	st.LastAccessedAt = now
	st.AvgResponseTimeMs = runningMean(st.AvgResponseTimeMs, responseTimeMs, st.TotalAccesses)
	st.AccessByHour[now.Hour()]++
	if callerID != "" {
		st.AccessByCaller[callerID]++
	}

	if len(p.events) == p.maxEvents {
		copy(p.events, p.events[1:])
		p.events = p.events[:p.maxEvents-1]
	}
	p.events = append(p.events, model.AccessEvent{Component: component, Timestamp: now})

	p.metrics.RecordAccess(component)
}

// runningMean is round((avg*(n-1)+v)/n)
func runningMean(avg, v int64, n int) int64 {
	return int64(math.Round(float64(avg*int64(n-1)+v) / float64(n)))
}

// Patterns summarizes current usage: busiest components, components hot at
// the current hour, cold components and frequent access sequences
func (p *PatternService) Patterns() model.UsagePatterns {
	now := p.now()
	hour := now.Hour()

	p.mu.Lock()
	defer p.mu.Unlock()

	byAccess := p.byAccessLocked()

	patterns := model.UsagePatterns{
		Timestamp:     now,
		CurrentHour:   hour,
		TopModules:    make([]model.TopModule, 0, topModulesLimit),
		HotAtThisHour: make([]model.HotModule, 0),
		ColdModules:   make([]string, 0),
		Sequences:     p.sequencesLocked(),
	}

	for i, st := range byAccess {
		if i < topModulesLimit {
			patterns.TopModules = append(patterns.TopModules, model.TopModule{
				Component:         st.Component,
				TotalAccesses:     st.TotalAccesses,
				AvgResponseTimeMs: st.AvgResponseTimeMs,
			})
		}
		if atHour := st.AccessByHour[hour]; atHour > 0 {
			patterns.HotAtThisHour = append(patterns.HotAtThisHour, model.HotModule{
				Component:      st.Component,
				AccessesAtHour: atHour,
				PercentOfTotal: roundPercent(float64(atHour), float64(st.TotalAccesses)),
			})
		}
		if st.TotalAccesses < coldAccessThreshold {
			patterns.ColdModules = append(patterns.ColdModules, st.Component)
		}
	}

	return patterns
}

// byAccessLocked orders stats by total accesses descending, first-seen order on ties
func (p *PatternService) byAccessLocked() []*model.ComponentUsageStats {
	out := make([]*model.ComponentUsageStats, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.stats[name])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TotalAccesses > out[j].TotalAccesses
	})
	return out
}

// sequencesLocked counts adjacent distinct pairs closer than the window and
// keeps those seen at least three times
func (p *PatternService) sequencesLocked() []model.Sequence {
	type pair struct{ from, to string }
	counts := make(map[pair]int)
	var firstSeen []pair

	for i := 0; i+1 < len(p.events); i++ {
		cur, next := p.events[i], p.events[i+1]
		dt := next.Timestamp.Sub(cur.Timestamp)
		if dt <= 0 || dt >= p.window || cur.Component == next.Component {
			continue
		}
		k := pair{cur.Component, next.Component}
		if _, seen := counts[k]; !seen {
			firstSeen = append(firstSeen, k)
		}
		counts[k]++
	}

	// group by source in first-seen order, then by target in first-seen order
	fromOrder := make(map[string]int)
	for _, k := range firstSeen {
		if _, ok := fromOrder[k.from]; !ok {
			fromOrder[k.from] = len(fromOrder)
		}
	}
	sort.SliceStable(firstSeen, func(i, j int) bool {
		return fromOrder[firstSeen[i].from] < fromOrder[firstSeen[j].from]
	})

	sequences := make([]model.Sequence, 0)
	for _, k := range firstSeen {
		n := counts[k]
		if n < minSequenceOccurrence {
			continue
		}
		sequences = append(sequences, model.Sequence{
			From:        k.from,
			To:          k.to,
			Occurrences: n,
			Confidence:  store.SequenceConfidence(n),
		})
	}

	sort.SliceStable(sequences, func(i, j int) bool {
		return sequences[i].Occurrences > sequences[j].Occurrences
	})
	if len(sequences) > sequencesLimit {
		sequences = sequences[:sequencesLimit]
	}
	return sequences
}

// PreloadRecommendation lists components that usually follow component
func (p *PatternService) PreloadRecommendation(component string) []string {
	out := make([]string, 0)
	for _, seq := range p.Patterns().Sequences {
		if seq.From == component && seq.Confidence >= preloadMinConfidence {
			out = append(out, seq.To)
		}
	}
	return out
}

// Stats returns a copy of one component's statistics
func (p *PatternService) Stats(component string) (*model.ComponentUsageStats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.stats[component]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

// AllStats returns copies of every component's statistics in first-seen order
func (p *PatternService) AllStats() []*model.ComponentUsageStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*model.ComponentUsageStats, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.stats[name].Clone())
	}
	return out
}

// ImportStats replaces all statistics. The event log is left untouched.
func (p *PatternService) ImportStats(stats []*model.ComponentUsageStats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = make(map[string]*model.ComponentUsageStats, len(stats))
	p.order = p.order[:0]
	for _, st := range stats {
		if st == nil || st.Component == "" {
			continue
		}
		c := st.Clone()
		if c.AccessByCaller == nil {
			c.AccessByCaller = make(map[string]int)
		}
		if _, dup := p.stats[c.Component]; !dup {
			p.order = append(p.order, c.Component)
		}
		p.stats[c.Component] = c
	}

	p.logger.Info("Imported usage stats", zap.Int("components", len(p.stats)))
}

// ClearStats drops all statistics and the event log
func (p *PatternService) ClearStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = make(map[string]*model.ComponentUsageStats)
	p.order = nil
	p.events = p.events[:0]
}
