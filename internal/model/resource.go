package model

import "time"

// ResourceSnapshot is one sample of process memory
type ResourceSnapshot struct {
	HeapUsedMB   int64     `json:"heapUsedMB"`
	HeapTotalMB  int64     `json:"heapTotalMB"`
	UsagePercent int       `json:"memoryUsagePercent"`
	ExternalMB   int64     `json:"externalMB"`
	Timestamp    time.Time `json:"timestamp"`
}

// SystemMemory is host-level memory in megabytes
type SystemMemory struct {
	TotalMB      int64 `json:"totalMB"`
	FreeMB       int64 `json:"freeMB"`
	UsedMB       int64 `json:"usedMB"`
	UsagePercent int   `json:"usagePercent"`
}

// MemoryTrend classifies recent heap usage movement
type MemoryTrend string

const (
	TrendIncreasing MemoryTrend = "increasing"
	TrendDecreasing MemoryTrend = "decreasing"
	TrendStable     MemoryTrend = "stable"
)
