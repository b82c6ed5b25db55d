package model

import "time"

// AccessEvent is one entry of the bounded access log used for sequence mining
type AccessEvent struct {
	Component string
	Timestamp time.Time
}

// ComponentUsageStats holds the running usage counters of a component
type ComponentUsageStats struct {
	Component         string         `json:"moduleName"`
	TotalAccesses     int            `json:"totalAccesses"`
	AvgResponseTimeMs int64          `json:"avgResponseTimeMs"`
	LastAccessedAt    time.Time      `json:"lastAccessedAt"`
	AccessByHour      [24]int        `json:"accessByHour"`
	AccessByCaller    map[string]int `json:"accessByOrg"`
}

// Clone returns a deep copy of the stats
func (s *ComponentUsageStats) Clone() *ComponentUsageStats {
	c := *s
	c.AccessByCaller = make(map[string]int, len(s.AccessByCaller))
	for k, v := range s.AccessByCaller {
		c.AccessByCaller[k] = v
	}
	return &c
}

// Sequence is an observed "from then to" access pair
type Sequence struct {
	From        string `json:"fromModule"`
	To          string `json:"toModule"`
	Occurrences int    `json:"occurrences"`
	Confidence  int    `json:"confidence"`
}

// TopModule is an entry of UsagePatterns.TopModules
type TopModule struct {
	Component         string `json:"module"`
	TotalAccesses     int    `json:"totalAccesses"`
	AvgResponseTimeMs int64  `json:"avgResponseTimeMs"`
}

// HotModule is an entry of UsagePatterns.HotAtThisHour
type HotModule struct {
	Component      string `json:"module"`
	AccessesAtHour int    `json:"accessesAtHour"`
	PercentOfTotal int    `json:"percentOfTotal"`
}

// UsagePatterns is the analyzer output at a point in time
type UsagePatterns struct {
	Timestamp     time.Time   `json:"timestamp"`
	CurrentHour   int         `json:"currentHour"`
	TopModules    []TopModule `json:"topModules"`
	HotAtThisHour []HotModule `json:"hotAtThisHour"`
	ColdModules   []string    `json:"coldModules"`
	Sequences     []Sequence  `json:"sequences"`
}

// UsageRecord is one persisted component access
type UsageRecord struct {
	ID         string    `json:"id"`
	CallerID   string    `json:"orgId"`
	Component  string    `json:"moduleName"`
	Route      string    `json:"route,omitempty"`
	LoadTimeMs int64     `json:"loadTimeMs"`
	AccessedAt time.Time `json:"accessedAt"`
}

// ModuleUsageSummary aggregates persisted usage of a component over a window
type ModuleUsageSummary struct {
	TotalAccesses  int         `json:"totalAccesses"`
	AvgLoadTimeMs  int64       `json:"avgLoadTimeMs"`
	PeakHour       int         `json:"peakHour"`
	AccessesByHour map[int]int `json:"accessesByHour"`
}

// UsageCount is the grouped access count of one component
type UsageCount struct {
	Component     string
	AccessCount   int
	AvgLoadTimeMs float64
}

// PatternType classifies persisted usage patterns
type PatternType string

const (
	PatternHourly         PatternType = "HOURLY"
	PatternSequence       PatternType = "SEQUENCE"
	PatternClassification PatternType = "CLASSIFICATION"
)

// Classification is the hot/warm/cold bucket of a component
type Classification string

const (
	ClassificationHot  Classification = "HOT"
	ClassificationWarm Classification = "WARM"
	ClassificationCold Classification = "COLD"
)

// UsagePattern is a persisted aggregate of usage behaviour
type UsagePattern struct {
	ID                string         `json:"id"`
	CallerID          string         `json:"orgId,omitempty"`
	Component         string         `json:"moduleName"`
	PatternType       PatternType    `json:"patternType"`
	Hour              *int           `json:"hour,omitempty"`
	RelatedComponent  string         `json:"relatedModule,omitempty"`
	Count             int            `json:"count"`
	AvgResponseTimeMs *int64         `json:"avgResponseTimeMs,omitempty"`
	Confidence        int            `json:"confidence"`
	Classification    Classification `json:"classification,omitempty"`
	UpdatedAt         time.Time      `json:"updatedAt"`

	// Snapshot rows carry an absolute count that replaces the stored one
	Snapshot bool `json:"-"`
}

// SequencePattern is a persisted A→B pattern
type SequencePattern struct {
	From       string `json:"fromModule"`
	To         string `json:"toModule"`
	Count      int    `json:"count"`
	Confidence int    `json:"confidence"`
}
