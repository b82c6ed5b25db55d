package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "optimizer-1", cfg.Server.NodeID)
	assert.Equal(t, 8080, cfg.Admin.Port)
	assert.Equal(t, "/startup-optimizer", cfg.Admin.BasePath)
	assert.Equal(t, 2*time.Second, cfg.Loader.BackgroundDelay)
	assert.Equal(t, model.TierBackground, cfg.Loader.ResourceCheckBoundary())
	assert.Equal(t, 1000, cfg.Analyzer.MaxEvents)
	assert.Equal(t, 60*time.Second, cfg.Analyzer.SequenceWindow)
	assert.Equal(t, time.Hour, cfg.Scheduler.ClassifyInterval)
	assert.Equal(t, 6*time.Hour, cfg.Scheduler.PreloadInterval)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.ValidateInterval)
	assert.Equal(t, 3, cfg.Scheduler.CleanupHour)
	assert.Equal(t, 30, cfg.Scheduler.RetentionDays)
	assert.Equal(t, 7, cfg.Learning.WindowDays)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optimizer.yaml")
	content := `
server:
  node_id: node-a
admin:
  port: 9100
loader:
  background_delay: 5s
  resource_check_tier: lazy
scheduler:
  cleanup_hour: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.Server.NodeID)
	assert.Equal(t, 9100, cfg.Admin.Port)
	assert.Equal(t, 5*time.Second, cfg.Loader.BackgroundDelay)
	assert.Equal(t, model.TierLazy, cfg.Loader.ResourceCheckBoundary())
	assert.Equal(t, 4, cfg.Scheduler.CleanupHour)
	// untouched sections keep their defaults
	assert.Equal(t, 1000, cfg.Analyzer.MaxEvents)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("OPTIMIZER_NODE_ID", "env-node")
	t.Setenv("ADMIN_PORT", "9200")
	t.Setenv("BACKGROUND_DELAY", "750ms")
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("GOSSIP_SEEDS", "10.0.0.1:7946,10.0.0.2:7946")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "env-node", cfg.Server.NodeID)
	assert.Equal(t, 9200, cfg.Admin.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.Loader.BackgroundDelay)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache.internal", cfg.Redis.Host)
	assert.True(t, cfg.Gossip.Enabled)
	assert.Equal(t, []string{"10.0.0.1:7946", "10.0.0.2:7946"}, cfg.Gossip.SeedNodes)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing node id",
			mutate:  func(c *Config) { c.Server.NodeID = "" },
			wantErr: "server.node_id is required",
		},
		{
			name:    "admin port out of range",
			mutate:  func(c *Config) { c.Admin.Port = 70000 },
			wantErr: "admin.port",
		},
		{
			name:    "unknown resource check tier",
			mutate:  func(c *Config) { c.Loader.ResourceCheckTier = "SOMETIMES" },
			wantErr: "loader.resource_check_tier",
		},
		{
			name:    "cleanup hour out of range",
			mutate:  func(c *Config) { c.Scheduler.CleanupHour = 24 },
			wantErr: "scheduler.cleanup_hour",
		},
		{
			name: "database enabled without user",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.User = ""
			},
			wantErr: "database.user is required",
		},
		{
			name: "rate limiter without rate",
			mutate: func(c *Config) {
				c.RateLimiter.Enabled = true
				c.RateLimiter.RequestsPerSecond = 0
			},
			wantErr: "rate_limiter.requests_per_second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseManifest(t *testing.T) {
	data := []byte(`
components:
  - name: auth
    tier: instant
    routes: ["/auth", "/login"]
  - name: payments
    tier: BACKGROUND
    dependencies: [auth]
    routes: ["/payments"]
    upstream: http://payments:8080
  - name: reports
`)

	m, err := ParseManifest(data)
	require.NoError(t, err)
	require.Len(t, m.Components, 3)

	regs := m.Registrations()
	assert.Equal(t, "auth", regs[0].Name)
	assert.Equal(t, model.TierInstant, regs[0].Tier)
	assert.Equal(t, []string{"/auth", "/login"}, regs[0].Routes)
	assert.Equal(t, []string{"auth"}, regs[1].Dependencies)
	assert.Equal(t, "http://payments:8080", regs[1].Upstream)
	assert.Equal(t, model.TierBackground, regs[2].Tier, "tier defaults to BACKGROUND")
	assert.False(t, regs[1].Loaded)
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "missing name",
			data:    "components:\n  - tier: LAZY\n",
			wantErr: "name is required",
		},
		{
			name:    "duplicate name",
			data:    "components:\n  - name: a\n  - name: a\n",
			wantErr: "duplicate component",
		},
		{
			name:    "unknown tier",
			data:    "components:\n  - name: a\n    tier: SOON\n",
			wantErr: "unknown tier",
		},
		{
			name:    "undeclared dependency",
			data:    "components:\n  - name: a\n    dependencies: [b]\n",
			wantErr: "undeclared",
		},
		{
			name:    "self dependency",
			data:    "components:\n  - name: a\n    dependencies: [a]\n",
			wantErr: "depends on itself",
		},
		{
			name:    "malformed yaml",
			data:    "components: [",
			wantErr: "failed to parse manifest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadManifest_MissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read manifest file")
}
