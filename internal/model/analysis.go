package model

import "time"

// PreloadResult is the outcome of preloading one component
type PreloadResult struct {
	Component     string `json:"moduleName"`
	Success       bool   `json:"success"`
	AlreadyLoaded bool   `json:"alreadyLoaded"`
	LoadTimeMs    int64  `json:"loadTimeMs"`
}

// PreloadResponse aggregates a batch preload
type PreloadResponse struct {
	Success         bool     `json:"success"`
	Loaded          []string `json:"loaded"`
	AlreadyLoaded   []string `json:"alreadyLoaded"`
	Failed          []string `json:"failed"`
	TotalLoadTimeMs int64    `json:"totalLoadTimeMs"`
}

// PromotionResult is the outcome of an on-demand promotion
type PromotionResult struct {
	Success          bool   `json:"success"`
	Component        string `json:"moduleName"`
	WasAlreadyLoaded bool   `json:"wasAlreadyLoaded"`
	LoadTimeMs       int64  `json:"loadTimeMs"`
	Message          string `json:"message"`
}

// PreloadMetrics measures how often preloaded components were used
type PreloadMetrics struct {
	TotalPreloads  int   `json:"totalPreloads"`
	UsedPreloads   int   `json:"usedPreloads"`
	UnusedPreloads int   `json:"unusedPreloads"`
	HitRate        int   `json:"hitRate"`
	AvgTimeToUseMs int64 `json:"avgTimeToUseMs"`
}

// TierAnalysis bundles patterns, preload metrics and recommendations
type TierAnalysis struct {
	Timestamp       time.Time      `json:"timestamp"`
	Patterns        UsagePatterns  `json:"patterns"`
	PreloadMetrics  PreloadMetrics `json:"preloadMetrics"`
	Recommendations []string       `json:"recommendations"`
}

// RelearnResult lists components whose tier changed during a learning pass
type RelearnResult struct {
	Promoted []string `json:"promoted"`
	Demoted  []string `json:"demoted"`
}

// NodeState is the load state a node advertises to its peers
type NodeState struct {
	NodeID      string      `json:"nodeId"`
	Loaded      int         `json:"loaded"`
	Total       int         `json:"total"`
	HeapPercent int         `json:"heapPercent"`
	Trend       MemoryTrend `json:"trend"`
	Timestamp   int64       `json:"timestamp"`
}

// ClusterMember is a peer as seen through gossip
type ClusterMember struct {
	Name  string     `json:"name"`
	Addr  string     `json:"addr"`
	State *NodeState `json:"state,omitempty"`
}

// CleanupResult counts rows removed by a retention pass
type CleanupResult struct {
	RetentionDays    int   `json:"retentionDays"`
	UsageDeleted     int64 `json:"usageDeleted"`
	DecisionsDeleted int64 `json:"decisionsDeleted"`
}

// ValidationResult counts decisions checked by a validation pass
type ValidationResult struct {
	Checked   int `json:"checked"`
	Validated int `json:"validated"`
	Effective int `json:"effective"`
}
