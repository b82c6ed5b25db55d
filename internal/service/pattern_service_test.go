package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// steppingClock returns t0, then advances by step on every call
func steppingClock(t0 time.Time, step time.Duration) func() time.Time {
	cur := t0.Add(-step)
	return func() time.Time {
		cur = cur.Add(step)
		return cur
	}
}

func newTestPatternService(now func() time.Time) *PatternService {
	p := NewPatternService(PatternConfig{}, nil, zap.NewNop())
	p.now = now
	return p
}

var analyzerStart = time.Date(2026, 3, 10, 14, 0, 0, 0, time.Local)

func TestPatternService_EmptyPatterns(t *testing.T) {
	p := newTestPatternService(func() time.Time { return analyzerStart })

	patterns := p.Patterns()
	assert.Equal(t, 14, patterns.CurrentHour)
	assert.Empty(t, patterns.TopModules)
	assert.Empty(t, patterns.HotAtThisHour)
	assert.Empty(t, patterns.ColdModules)
	assert.Empty(t, patterns.Sequences)
	assert.NotNil(t, patterns.Sequences)
	assert.Empty(t, p.AllStats())
	assert.Empty(t, p.PreloadRecommendation("anything"))
}

func TestPatternService_RecordAccessStreamingMean(t *testing.T) {
	p := newTestPatternService(func() time.Time { return analyzerStart })

	p.RecordAccess("billing", 100, "org-1")
	p.RecordAccess("billing", 201, "org-1")
	p.RecordAccess("billing", 0, "")

	st, ok := p.Stats("billing")
	require.True(t, ok)
	assert.Equal(t, 3, st.TotalAccesses)
	// round((100*1+201)/2) = 151, round((151*2+0)/3) = 101
	assert.Equal(t, int64(101), st.AvgResponseTimeMs)
	assert.Equal(t, 3, st.AccessByHour[14])
	assert.Equal(t, map[string]int{"org-1": 2}, st.AccessByCaller)
	assert.Equal(t, analyzerStart, st.LastAccessedAt)

	_, ok = p.Stats("ghost")
	assert.False(t, ok)
}

func TestPatternService_ABSequence(t *testing.T) {
	p := newTestPatternService(steppingClock(analyzerStart, 5*time.Second))

	for _, name := range []string{"A", "B", "A", "B", "A", "B"} {
		p.RecordAccess(name, 10, "")
	}

	seqs := p.Patterns().Sequences
	require.Len(t, seqs, 1, "B->A occurs only twice")
	assert.Equal(t, model.Sequence{From: "A", To: "B", Occurrences: 3, Confidence: 30}, seqs[0])

	assert.Equal(t, []string{"B"}, p.PreloadRecommendation("A"))
	assert.Empty(t, p.PreloadRecommendation("B"))
}

func TestPatternService_SequenceAcrossGap(t *testing.T) {
	offsets := []time.Duration{0, 5, 70, 75, 80, 85}
	i := 0
	p := newTestPatternService(func() time.Time {
		if i >= len(offsets) {
			return analyzerStart.Add(90 * time.Second)
		}
		at := analyzerStart.Add(offsets[i] * time.Second)
		i++
		return at
	})

	for _, name := range []string{"A", "B", "A", "B", "A", "B"} {
		p.RecordAccess(name, 10, "")
	}

	// B->A at 5s..70s is outside the window; B->A at 75s..80s happens once
	seqs := p.Patterns().Sequences
	assert.Equal(t, []model.Sequence{{From: "A", To: "B", Occurrences: 3, Confidence: 30}}, seqs)
}

func TestPatternService_SequenceWindow(t *testing.T) {
	tests := []struct {
		name     string
		step     time.Duration
		expected int
	}{
		{"inside window", 59 * time.Second, 1},
		{"exactly window excluded", 60 * time.Second, 0},
		{"simultaneous excluded", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPatternService(steppingClock(analyzerStart, tt.step))
			for _, name := range []string{"A", "B", "A", "B", "A", "B"} {
				p.RecordAccess(name, 10, "")
			}
			assert.Len(t, p.Patterns().Sequences, tt.expected)
		})
	}
}

func TestPatternService_SameComponentPairsIgnored(t *testing.T) {
	p := newTestPatternService(steppingClock(analyzerStart, time.Second))
	for i := 0; i < 10; i++ {
		p.RecordAccess("A", 10, "")
	}
	assert.Empty(t, p.Patterns().Sequences)
}

func TestPatternService_SequenceOrdering(t *testing.T) {
	p := newTestPatternService(steppingClock(analyzerStart, time.Second))

	// C->D three times, then A->B five times
	for i := 0; i < 3; i++ {
		p.RecordAccess("C", 1, "")
		p.RecordAccess("D", 1, "")
		p.RecordAccess("X", 1, "")
	}
	for i := 0; i < 5; i++ {
		p.RecordAccess("A", 1, "")
		p.RecordAccess("B", 1, "")
		p.RecordAccess("Y", 1, "")
	}

	seqs := p.Patterns().Sequences
	require.NotEmpty(t, seqs)
	assert.Equal(t, "A", seqs[0].From)
	assert.Equal(t, "B", seqs[0].To)
	assert.Equal(t, 5, seqs[0].Occurrences)
	assert.Equal(t, 50, seqs[0].Confidence)

	for i := 1; i < len(seqs); i++ {
		assert.GreaterOrEqual(t, seqs[i-1].Occurrences, seqs[i].Occurrences)
	}
}

func TestPatternService_ColdAndTop(t *testing.T) {
	p := newTestPatternService(func() time.Time { return analyzerStart })

	for i := 0; i < 5; i++ {
		p.RecordAccess("warm", 10, "")
	}
	for i := 0; i < 4; i++ {
		p.RecordAccess("cold", 10, "")
	}
	p.RecordAccess("rare", 10, "")

	patterns := p.Patterns()
	assert.Equal(t, []string{"cold", "rare"}, patterns.ColdModules, "exactly five is not cold")

	require.Len(t, patterns.TopModules, 3)
	assert.Equal(t, "warm", patterns.TopModules[0].Component)
	assert.Equal(t, 5, patterns.TopModules[0].TotalAccesses)
	assert.Equal(t, int64(10), patterns.TopModules[0].AvgResponseTimeMs)
}

func TestPatternService_TopModulesLimitAndTies(t *testing.T) {
	p := newTestPatternService(func() time.Time { return analyzerStart })

	for i := 0; i < 12; i++ {
		p.RecordAccess(fmt.Sprintf("m%02d", i), 1, "")
	}
	p.RecordAccess("m11", 1, "")

	top := p.Patterns().TopModules
	require.Len(t, top, 10)
	assert.Equal(t, "m11", top[0].Component)
	assert.Equal(t, "m00", top[1].Component, "ties keep first-seen order")
	assert.Equal(t, "m08", top[9].Component)
}

func TestPatternService_HotAtThisHour(t *testing.T) {
	clock := analyzerStart.Add(-time.Hour)
	p := newTestPatternService(func() time.Time { return clock })

	p.RecordAccess("reports", 10, "")
	p.RecordAccess("reports", 10, "")
	p.RecordAccess("search", 10, "")

	clock = analyzerStart
	p.RecordAccess("reports", 10, "")

	hot := p.Patterns().HotAtThisHour
	require.Len(t, hot, 1)
	assert.Equal(t, model.HotModule{Component: "reports", AccessesAtHour: 1, PercentOfTotal: 33}, hot[0])
}

func TestPatternService_EventLogBounded(t *testing.T) {
	p := NewPatternService(PatternConfig{MaxEvents: 4}, nil, zap.NewNop())
	p.now = steppingClock(analyzerStart, time.Second)

	// early A->B pairs fall out of the log
	for _, name := range []string{"A", "B", "A", "B", "A", "B", "C", "D", "C", "D"} {
		p.RecordAccess(name, 1, "")
	}

	p.mu.Lock()
	events := append([]model.AccessEvent(nil), p.events...)
	p.mu.Unlock()

	require.Len(t, events, 4)
	assert.Equal(t, "C", events[0].Component)
	assert.Equal(t, "D", events[3].Component)
	assert.Empty(t, p.Patterns().Sequences)
}

func TestPatternService_ImportAndClear(t *testing.T) {
	p := newTestPatternService(steppingClock(analyzerStart, time.Second))

	p.ImportStats([]*model.ComponentUsageStats{
		{Component: "billing", TotalAccesses: 40, AvgResponseTimeMs: 12},
		nil,
		{Component: ""},
		{Component: "search", TotalAccesses: 3},
	})

	all := p.AllStats()
	require.Len(t, all, 2)
	assert.Equal(t, "billing", all[0].Component)
	assert.NotNil(t, all[0].AccessByCaller)

	p.RecordAccess("billing", 12, "org-2")
	st, _ := p.Stats("billing")
	assert.Equal(t, 41, st.TotalAccesses)

	all[0].TotalAccesses = 999
	st, _ = p.Stats("billing")
	assert.Equal(t, 41, st.TotalAccesses, "AllStats returns copies")

	p.ClearStats()
	assert.Empty(t, p.AllStats())
	assert.Empty(t, p.Patterns().TopModules)
}
