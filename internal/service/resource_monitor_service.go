package service

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/metrics"
	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

const (
	maxSnapshots   = 100
	trendWindow    = 5
	trendThreshold = 10
	bytesPerMB     = 1024 * 1024
)

// MemoryReader reports host memory
type MemoryReader interface {
	SystemMemory() (model.SystemMemory, error)
}

// HeapStats is the subset of process memory the monitor samples
type HeapStats struct {
	HeapAlloc uint64
	HeapSys   uint64
	Sys       uint64
}

// HeapReader returns current process memory
type HeapReader func() HeapStats

// RuntimeHeapReader reads the Go runtime's memory statistics
func RuntimeHeapReader() HeapStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return HeapStats{HeapAlloc: ms.HeapAlloc, HeapSys: ms.HeapSys, Sys: ms.Sys}
}

// ProcMemoryReader reads host memory from /proc/meminfo
type ProcMemoryReader struct {
	fs procfs.FS
}

// NewProcMemoryReader opens the default proc filesystem
func NewProcMemoryReader() (*ProcMemoryReader, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}
	return &ProcMemoryReader{fs: fs}, nil
}

// SystemMemory reports total and available host memory. Free memory is
// MemAvailable when the kernel provides it, MemFree otherwise.
func (p *ProcMemoryReader) SystemMemory() (model.SystemMemory, error) {
	info, err := p.fs.Meminfo()
	if err != nil {
		return model.SystemMemory{}, fmt.Errorf("failed to read meminfo: %w", err)
	}
	if info.MemTotal == nil {
		return model.SystemMemory{}, fmt.Errorf("meminfo has no MemTotal")
	}

	var freeKB uint64
	switch {
	case info.MemAvailable != nil:
		freeKB = *info.MemAvailable
	case info.MemFree != nil:
		freeKB = *info.MemFree
	}

	return newSystemMemory(int64(*info.MemTotal)*1024, int64(freeKB)*1024), nil
}

func newSystemMemory(totalBytes, freeBytes int64) model.SystemMemory {
	totalMB := roundMB(uint64(totalBytes))
	freeMB := roundMB(uint64(freeBytes))
	usedMB := totalMB - freeMB

	m := model.SystemMemory{TotalMB: totalMB, FreeMB: freeMB, UsedMB: usedMB}
	if totalMB > 0 {
		m.UsagePercent = roundPercent(float64(usedMB), float64(totalMB))
	}
	return m
}

// ResourceMonitorService samples process memory into a bounded ring of
// snapshots and decides whether new loads may be admitted
type ResourceMonitorService struct {
	mu        sync.Mutex
	snapshots []model.ResourceSnapshot

	heap    HeapReader
	host    MemoryReader
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewResourceMonitorService creates a monitor. A nil heap reader falls back
// to the Go runtime.
func NewResourceMonitorService(heap HeapReader, host MemoryReader, m *metrics.Metrics, logger *zap.Logger) *ResourceMonitorService {
	if heap == nil {
		heap = RuntimeHeapReader
	}
	return &ResourceMonitorService{
		snapshots: make([]model.ResourceSnapshot, 0, maxSnapshots),
		heap:      heap,
		host:      host,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Sample records the current process memory as a new snapshot
func (s *ResourceMonitorService) Sample() model.ResourceSnapshot {
	hs := s.heap()

	heapUsedMB := roundMB(hs.HeapAlloc)
	heapTotalMB := roundMB(hs.HeapSys)
	var externalMB int64
	if hs.Sys > hs.HeapSys {
		externalMB = roundMB(hs.Sys - hs.HeapSys)
	}

	snap := model.ResourceSnapshot{
		HeapUsedMB:  heapUsedMB,
		HeapTotalMB: heapTotalMB,
		ExternalMB:  externalMB,
		Timestamp:   s.now(),
	}
	if heapTotalMB > 0 {
		snap.UsagePercent = roundPercent(float64(heapUsedMB), float64(heapTotalMB))
	}

	s.mu.Lock()
	if len(s.snapshots) == maxSnapshots {
		copy(s.snapshots, s.snapshots[1:])
		s.snapshots = s.snapshots[:maxSnapshots-1]
	}
	s.snapshots = append(s.snapshots, snap)
	s.mu.Unlock()

	return snap
}

// SystemMemory reads host memory. Read failures yield a zero value, which
// maps to the most conservative threshold.
func (s *ResourceMonitorService) SystemMemory() model.SystemMemory {
	if s.host == nil {
		return model.SystemMemory{}
	}
	m, err := s.host.SystemMemory()
	if err != nil {
		s.logger.Warn("Failed to read host memory", zap.Error(err))
		return model.SystemMemory{}
	}
	return m
}

// DynamicThreshold is the heap usage percentage below which loads are admitted
func (s *ResourceMonitorService) DynamicThreshold() int {
	return thresholdFor(s.SystemMemory())
}

func thresholdFor(m model.SystemMemory) int {
	switch {
	case m.FreeMB > 2000:
		return 98
	case m.TotalMB >= 16000:
		return 98
	case m.TotalMB >= 8000:
		return 95
	default:
		return 85
	}
}

// CanAdmit samples memory and reports whether a new load fits under the threshold
func (s *ResourceMonitorService) CanAdmit() bool {
	ok, _, _ := s.Admission()
	return ok
}

// Admission is CanAdmit with the observed usage and threshold
func (s *ResourceMonitorService) Admission() (ok bool, usagePercent, threshold int) {
	snap := s.Sample()
	host := s.SystemMemory()
	threshold = thresholdFor(host)
	ok = snap.UsagePercent < threshold

	s.metrics.UpdateMemory(snap.UsagePercent, threshold)

	if !ok {
		s.metrics.RecordAdmissionRejected()
		s.logger.Warn("Memory constrained, deferring component load",
			zap.Int("heap_percent", snap.UsagePercent),
			zap.Int("threshold", threshold),
			zap.Int64("system_free_mb", host.FreeMB))
	}
	return ok, snap.UsagePercent, threshold
}

// Latest returns the most recent snapshot
func (s *ResourceMonitorService) Latest() (model.ResourceSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.snapshots) == 0 {
		return model.ResourceSnapshot{}, false
	}
	return s.snapshots[len(s.snapshots)-1], true
}

// Snapshots returns a copy of the ring, oldest first
func (s *ResourceMonitorService) Snapshots() []model.ResourceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]model.ResourceSnapshot(nil), s.snapshots...)
}

// AverageUsage is the rounded mean usage of the last n snapshots, 0 when empty
func (s *ResourceMonitorService) AverageUsage(lastN int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lastN <= 0 || len(s.snapshots) == 0 {
		return 0
	}
	recent := s.snapshots
	if len(recent) > lastN {
		recent = recent[len(recent)-lastN:]
	}

	sum := 0
	for _, snap := range recent {
		sum += snap.UsagePercent
	}
	return int(math.Round(float64(sum) / float64(len(recent))))
}

// Trend compares the first and last of the last five snapshots
func (s *ResourceMonitorService) Trend() model.MemoryTrend {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.snapshots) < trendWindow {
		return model.TrendStable
	}
	recent := s.snapshots[len(s.snapshots)-trendWindow:]
	diff := recent[len(recent)-1].UsagePercent - recent[0].UsagePercent

	switch {
	case diff > trendThreshold:
		return model.TrendIncreasing
	case diff < -trendThreshold:
		return model.TrendDecreasing
	default:
		return model.TrendStable
	}
}

// LogStatus samples and logs heap and host memory on one line
func (s *ResourceMonitorService) LogStatus() {
	snap := s.Sample()
	host := s.SystemMemory()

	s.logger.Info("Resource status",
		zap.Int64("heap_used_mb", snap.HeapUsedMB),
		zap.Int64("heap_total_mb", snap.HeapTotalMB),
		zap.Int("heap_percent", snap.UsagePercent),
		zap.Int64("system_free_mb", host.FreeMB),
		zap.Int64("system_total_mb", host.TotalMB))
}

// Run samples memory every interval until ctx is done
func (s *ResourceMonitorService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.Sample()
			s.metrics.UpdateMemory(snap.UsagePercent, s.DynamicThreshold())
		}
	}
}

func roundMB(b uint64) int64 {
	return int64(math.Round(float64(b) / bytesPerMB))
}

func roundPercent(part, whole float64) int {
	if whole == 0 {
		return 0
	}
	return int(math.Round(part / whole * 100))
}
