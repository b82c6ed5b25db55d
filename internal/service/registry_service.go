package service

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/model"
	"go.uber.org/zap"
)

// RegistryService owns component metadata and load state. Unknown names
// never fail; lookups report absence instead.
type RegistryService struct {
	mu         sync.RWMutex
	components map[string]*model.ComponentRegistration
	order      []string
	now        func() time.Time
	logger     *zap.Logger
}

// NewRegistryService creates an empty registry
func NewRegistryService(logger *zap.Logger) *RegistryService {
	return &RegistryService{
		components: make(map[string]*model.ComponentRegistration),
		now:        time.Now,
		logger:     logger,
	}
}

// Register inserts or replaces a registration. The stored copy always starts unloaded;
// a replaced entry keeps its original registration position.
func (r *RegistryService) Register(reg *model.ComponentRegistration) {
	c := reg.Clone()
	c.Loaded = false
	c.LoadedAt = time.Time{}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.components[c.Name]; !exists {
		r.order = append(r.order, c.Name)
	}
	r.components[c.Name] = c

	r.logger.Debug("Component registered",
		zap.String("component", c.Name),
		zap.String("tier", c.Tier.String()),
		zap.Int("dependencies", len(c.Dependencies)))
}

// RegisterAll registers a batch in order
func (r *RegistryService) RegisterAll(regs []*model.ComponentRegistration) {
	for _, reg := range regs {
		r.Register(reg)
	}
}

// Get returns a copy of the registration
func (r *RegistryService) Get(name string) (*model.ComponentRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.components[name]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// IsLoaded reports whether a component is loaded; false for unknown names
func (r *RegistryService) IsLoaded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.components[name]
	return ok && c.Loaded
}

// All returns every registration in registration order
func (r *RegistryService) All() []*model.ComponentRegistration {
	return r.filter(func(*model.ComponentRegistration) bool { return true })
}

// Unloaded returns registrations not yet loaded, in registration order
func (r *RegistryService) Unloaded() []*model.ComponentRegistration {
	return r.filter(func(c *model.ComponentRegistration) bool { return !c.Loaded })
}

// GetByTier returns the tier's registrations ordered by ascending dependency
// count, registration order breaking ties. This is a heuristic, not a
// topological sort.
func (r *RegistryService) GetByTier(tier model.Tier) []*model.ComponentRegistration {
	regs := r.filter(func(c *model.ComponentRegistration) bool { return c.Tier == tier })
	sort.SliceStable(regs, func(i, j int) bool {
		return len(regs[i].Dependencies) < len(regs[j].Dependencies)
	})
	return regs
}

// GetByRoute returns the first registration, in registration order, owning a
// route prefix of path
func (r *RegistryService) GetByRoute(path string) (*model.ComponentRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		c := r.components[name]
		for _, prefix := range c.Routes {
			if prefix != "" && strings.HasPrefix(path, prefix) {
				return c.Clone(), true
			}
		}
	}
	return nil, false
}

// MarkLoaded flips the component to loaded. LoadedAt is stamped once.
func (r *RegistryService) MarkLoaded(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[name]
	if !ok || c.Loaded {
		return
	}
	c.Loaded = true
	c.LoadedAt = r.now()
}

// DependenciesLoaded reports whether every dependency of name is loaded.
// A component without dependencies is always ready; unknown names are not.
func (r *RegistryService) DependenciesLoaded(name string) bool {
	missing, ok := r.MissingDependencies(name)
	return ok && len(missing) == 0
}

// MissingDependencies lists dependencies of name that are not loaded
func (r *RegistryService) MissingDependencies(name string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.components[name]
	if !ok {
		return nil, false
	}

	var missing []string
	for _, dep := range c.Dependencies {
		if d, exists := r.components[dep]; !exists || !d.Loaded {
			missing = append(missing, dep)
		}
	}
	return missing, true
}

// Promote moves a component one tier toward INSTANT, clamped
func (r *RegistryService) Promote(name string) (model.Tier, bool) {
	return r.shift(name, -1)
}

// Demote moves a component one tier toward DORMANT, clamped
func (r *RegistryService) Demote(name string) (model.Tier, bool) {
	return r.shift(name, 1)
}

func (r *RegistryService) shift(name string, delta int) (model.Tier, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[name]
	if !ok {
		return 0, false
	}

	next := c.Tier + model.Tier(delta)
	if next < model.MinTier {
		next = model.MinTier
	}
	if next > model.MaxTier {
		next = model.MaxTier
	}
	if next != c.Tier {
		r.logger.Info("Component tier changed",
			zap.String("component", name),
			zap.String("from", c.Tier.String()),
			zap.String("to", next.String()))
	}
	c.Tier = next
	return next, true
}

// SetTier assigns a tier directly and returns the previous one
func (r *RegistryService) SetTier(name string, tier model.Tier) (model.Tier, bool) {
	if !tier.Valid() {
		return 0, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.components[name]
	if !ok {
		return 0, false
	}
	prev := c.Tier
	c.Tier = tier
	return prev, true
}

// Stats counts registrations overall, loaded, and per tier
func (r *RegistryService) Stats() model.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := model.RegistryStats{
		Total:  len(r.components),
		ByTier: make(map[model.Tier]int, len(model.AllTiers())),
	}
	for _, t := range model.AllTiers() {
		stats.ByTier[t] = 0
	}
	for _, c := range r.components {
		if c.Loaded {
			stats.Loaded++
		}
		stats.ByTier[c.Tier]++
	}
	return stats
}

func (r *RegistryService) filter(keep func(*model.ComponentRegistration) bool) []*model.ComponentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.ComponentRegistration, 0, len(r.order))
	for _, name := range r.order {
		c := r.components[name]
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	return out
}
