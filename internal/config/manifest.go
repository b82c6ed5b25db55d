package config

import (
	"fmt"
	"os"

	"github.com/gomo-hub/startup-optimizer/internal/model"
	"gopkg.in/yaml.v3"
)

// Manifest lists the components the host registers at boot
type Manifest struct {
	Components []ComponentSpec `yaml:"components"`
}

// ComponentSpec is one component entry of the manifest
type ComponentSpec struct {
	Name         string   `yaml:"name"`
	Tier         string   `yaml:"tier"`
	Dependencies []string `yaml:"dependencies"`
	Routes       []string `yaml:"routes"`
	Upstream     string   `yaml:"upstream"`
	WarmupURL    string   `yaml:"warmup_url"`
}

// LoadManifest reads and validates a component manifest
func LoadManifest(filePath string) (*Manifest, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	return ParseManifest(data)
}

// ParseManifest parses manifest YAML
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	setManifestDefaults(&m)

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	return &m, nil
}

// setManifestDefaults fills unspecified tiers
func setManifestDefaults(m *Manifest) {
	for i := range m.Components {
		if m.Components[i].Tier == "" {
			m.Components[i].Tier = model.TierBackground.String()
		}
	}
}

// Validate checks names, tiers and dependency references.
// Dependency cycles are not rejected here.
func (m *Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Components))
	for _, c := range m.Components {
		if c.Name == "" {
			return fmt.Errorf("component name is required")
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate component %q", c.Name)
		}
		seen[c.Name] = struct{}{}

		if _, err := model.ParseTier(c.Tier); err != nil {
			return fmt.Errorf("component %q: %w", c.Name, err)
		}
	}

	for _, c := range m.Components {
		for _, dep := range c.Dependencies {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("component %q depends on undeclared %q", c.Name, dep)
			}
			if dep == c.Name {
				return fmt.Errorf("component %q depends on itself", c.Name)
			}
		}
	}

	return nil
}

// Registrations converts the manifest into registry entries, in manifest order
func (m *Manifest) Registrations() []*model.ComponentRegistration {
	regs := make([]*model.ComponentRegistration, 0, len(m.Components))
	for _, c := range m.Components {
		tier, _ := model.ParseTier(c.Tier)
		regs = append(regs, &model.ComponentRegistration{
			Name:         c.Name,
			Tier:         tier,
			Dependencies: append([]string(nil), c.Dependencies...),
			Routes:       append([]string(nil), c.Routes...),
			Upstream:     c.Upstream,
			WarmupURL:    c.WarmupURL,
		})
	}
	return regs
}
