package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/metrics"
	"github.com/gomo-hub/startup-optimizer/internal/store"
	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check statuses
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

const pingTimeout = 3 * time.Second

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MemoryGate reports current heap usage against the admission threshold
type MemoryGate interface {
	Admission() (ok bool, usagePercent, threshold int)
}

// HealthChecker tracks liveness and readiness of the optimizer. Readiness
// requires the INSTANT tier to be loaded and every critical check to pass.
type HealthChecker struct {
	memory  MemoryGate
	pingers map[string]store.Pinger
	grpc    *grpchealth.Server
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu        sync.RWMutex
	booted    bool
	draining  bool
	checks    map[string]CheckResult
	lastCheck time.Time
}

// NewHealthChecker creates a health checker. memory may be nil.
func NewHealthChecker(memory MemoryGate, m *metrics.Metrics, logger *zap.Logger) *HealthChecker {
	h := &HealthChecker{
		memory:  memory,
		pingers: make(map[string]store.Pinger),
		grpc:    grpchealth.NewServer(),
		metrics: m,
		logger:  logger,
		checks:  make(map[string]CheckResult),
	}
	h.grpc.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// AddStore registers a store whose ping gates readiness
func (h *HealthChecker) AddStore(name string, p store.Pinger) {
	if p == nil {
		return
	}
	h.mu.Lock()
	h.pingers[name] = p
	h.mu.Unlock()
}

// GRPCServer returns the gRPC health service
func (h *HealthChecker) GRPCServer() *grpchealth.Server {
	return h.grpc
}

// MarkReady records that the INSTANT tier has loaded
func (h *HealthChecker) MarkReady() {
	h.mu.Lock()
	h.booted = true
	h.mu.Unlock()

	h.logger.Info("Service ready")
	h.publish()
}

// Drain makes the service report not ready ahead of shutdown
func (h *HealthChecker) Drain() {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	h.grpc.Shutdown()
	h.publish()
}

// Start runs the checks every interval until ctx ends
func (h *HealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			h.RunChecks(ctx)
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks evaluates every check once
func (h *HealthChecker) RunChecks(ctx context.Context) {
	results := []CheckResult{h.checkBootstrap(), h.checkMemory()}

	h.mu.RLock()
	names := make([]string, 0, len(h.pingers))
	for name := range h.pingers {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		results = append(results, h.checkStore(ctx, name))
	}

	h.mu.Lock()
	for _, r := range results {
		h.checks[r.Name] = r
	}
	h.lastCheck = time.Now()
	h.mu.Unlock()

	h.publish()

	h.logger.Debug("Health check completed",
		zap.Bool("ready", h.IsReady()),
		zap.Int("checks", len(results)))
}

func (h *HealthChecker) checkBootstrap() CheckResult {
	h.mu.RLock()
	booted := h.booted
	h.mu.RUnlock()

	if !booted {
		return CheckResult{Name: "bootstrap", Status: StatusCritical, Message: "INSTANT tier not loaded", Timestamp: time.Now()}
	}
	return CheckResult{Name: "bootstrap", Status: StatusHealthy, Message: "INSTANT tier loaded", Timestamp: time.Now()}
}

func (h *HealthChecker) checkMemory() CheckResult {
	if h.memory == nil {
		return CheckResult{Name: "memory_pressure", Status: StatusHealthy, Message: "Memory check disabled", Timestamp: time.Now()}
	}

	ok, usage, threshold := h.memory.Admission()
	if !ok {
		// over threshold only defers loading, the service keeps serving
		return CheckResult{
			Name:      "memory_pressure",
			Status:    StatusWarning,
			Message:   fmt.Sprintf("Heap usage %d%% over threshold %d%%", usage, threshold),
			Timestamp: time.Now(),
		}
	}
	return CheckResult{
		Name:      "memory_pressure",
		Status:    StatusHealthy,
		Message:   fmt.Sprintf("Heap usage %d%%, threshold %d%%", usage, threshold),
		Timestamp: time.Now(),
	}
}

func (h *HealthChecker) checkStore(ctx context.Context, name string) CheckResult {
	h.mu.RLock()
	p := h.pingers[name]
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		h.logger.Error("Store health check failed", zap.String("store", name), zap.Error(err))
		return CheckResult{Name: name, Status: StatusCritical, Message: err.Error(), Timestamp: time.Now()}
	}
	return CheckResult{Name: name, Status: StatusHealthy, Message: "reachable", Timestamp: time.Now()}
}

func (h *HealthChecker) publish() {
	ready := h.IsReady()
	h.metrics.SetHealthStatus(ready)

	h.mu.RLock()
	draining := h.draining
	h.mu.RUnlock()
	if draining {
		return
	}
	if ready {
		h.grpc.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		h.grpc.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// IsReady reports whether the service can take traffic
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.booted || h.draining {
		return false
	}
	for _, c := range h.checks {
		if c.Status == StatusCritical && c.Name != "bootstrap" {
			return false
		}
	}
	return true
}

// Checks returns the latest result of every check, sorted by name
func (h *HealthChecker) Checks() []CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]CheckResult, 0, len(h.checks))
	for _, c := range h.checks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().Unix(),
	})
}

// ReadinessHandler handles readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()

	checks := make(map[string]string)
	for _, c := range h.Checks() {
		checks[c.Name] = c.Status
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
