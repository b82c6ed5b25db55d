package model

import "time"

// ComponentRegistration describes one lazily initialized component
type ComponentRegistration struct {
	Name         string    `json:"name"`
	Tier         Tier      `json:"tier"`
	Dependencies []string  `json:"dependencies,omitempty"`
	Routes       []string  `json:"routes,omitempty"`
	Loaded       bool      `json:"loaded"`
	LoadedAt     time.Time `json:"loadedAt,omitempty"`

	// Upstream is an optional backend address the gateway forwards to
	Upstream string `json:"upstream,omitempty"`
	// WarmupURL is called by the warmup initializer, if set
	WarmupURL string `json:"warmupUrl,omitempty"`
}

// Clone returns a deep copy of the registration
func (r *ComponentRegistration) Clone() *ComponentRegistration {
	c := *r
	c.Dependencies = append([]string(nil), r.Dependencies...)
	c.Routes = append([]string(nil), r.Routes...)
	return &c
}

// RegistryStats aggregates registry contents
type RegistryStats struct {
	Total  int          `json:"total"`
	Loaded int          `json:"loaded"`
	ByTier map[Tier]int `json:"byTier"`
}

// ModuleStatus is the externally reported state of one component
type ModuleStatus struct {
	Component string            `json:"moduleName"`
	IsLoaded  bool              `json:"isLoaded"`
	Tier      string            `json:"tier"`
	Stats     *ModuleStatusStat `json:"stats"`
}

// ModuleStatusStat is the usage summary inside ModuleStatus
type ModuleStatusStat struct {
	TotalAccesses     int       `json:"totalAccesses"`
	AvgResponseTimeMs int64     `json:"avgResponseTimeMs"`
	LastAccessedAt    time.Time `json:"lastAccessedAt"`
}

// OrchestratorStats is the loader's view of registry, memory and bootstrap state
type OrchestratorStats struct {
	Modules           RegistryStats     `json:"modules"`
	Resources         *ResourceSnapshot `json:"resources"`
	BootstrapComplete bool              `json:"bootstrapComplete"`
}

// TierLoadReport summarizes one pass over a tier
type TierLoadReport struct {
	Tier       Tier          `json:"tier"`
	Components int           `json:"components"`
	Loaded     int           `json:"loaded"`
	Deferred   int           `json:"deferred"`
	Failed     int           `json:"failed"`
	Elapsed    time.Duration `json:"elapsed"`
}
