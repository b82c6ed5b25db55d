package config

import (
	"errors"
	"time"

	"github.com/gomo-hub/startup-optimizer/internal/model"
)

// Config represents the startup optimizer service configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Loader      LoaderConfig      `mapstructure:"loader"`
	Analyzer    AnalyzerConfig    `mapstructure:"analyzer"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Learning    LearningConfig    `mapstructure:"learning"`
	Tracker     TrackerConfig     `mapstructure:"tracker"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Gossip      GossipConfig      `mapstructure:"gossip"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig represents process level settings
type ServerConfig struct {
	NodeID          string        `mapstructure:"node_id"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ManifestPath    string        `mapstructure:"manifest_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AdminConfig represents the admin and gateway HTTP server
type AdminConfig struct {
	Port         int           `mapstructure:"port"`
	BasePath     string        `mapstructure:"base_path"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

// LoaderConfig controls the tiered bootstrap
type LoaderConfig struct {
	BackgroundDelay   time.Duration `mapstructure:"background_delay"`
	ResourceCheckTier string        `mapstructure:"resource_check_tier"`
	InitTimeout       time.Duration `mapstructure:"init_timeout"`
	SampleInterval    time.Duration `mapstructure:"sample_interval"`
}

// AnalyzerConfig controls the access pattern analyzer
type AnalyzerConfig struct {
	MaxEvents      int           `mapstructure:"max_events"`
	SequenceWindow time.Duration `mapstructure:"sequence_window"`
}

// SchedulerConfig controls the periodic optimization jobs
type SchedulerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	ClassifyInterval   time.Duration `mapstructure:"classify_interval"`
	PreloadInterval    time.Duration `mapstructure:"preload_interval"`
	ValidateInterval   time.Duration `mapstructure:"validate_interval"`
	CleanupCheckPeriod time.Duration `mapstructure:"cleanup_check_period"`
	CleanupHour        int           `mapstructure:"cleanup_hour"`
	RetentionDays      int           `mapstructure:"retention_days"`
	ClassifyPeriodDays int           `mapstructure:"classify_period_days"`
	SnapshotInterval   time.Duration `mapstructure:"snapshot_interval"`
}

// LearningConfig controls the usage driven tier learning pass
type LearningConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	WindowDays int  `mapstructure:"window_days"`
}

// TrackerConfig controls asynchronous usage persistence and sequence preloading
type TrackerConfig struct {
	Workers          int  `mapstructure:"workers"`
	QueueSize        int  `mapstructure:"queue_size"`
	PreloadFollowers bool `mapstructure:"preload_followers"`
}

// DatabaseConfig represents PostgreSQL usage store configuration
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig represents Redis stats snapshot store configuration
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BindPort       int           `mapstructure:"bind_port"`
	SeedNodes      []string      `mapstructure:"seed_nodes"`
	GossipInterval time.Duration `mapstructure:"gossip_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// RateLimiterConfig represents admin rate limiting
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ResourceCheckBoundary returns the first tier that is gated on memory admission
func (c *LoaderConfig) ResourceCheckBoundary() model.Tier {
	tier, err := model.ParseTier(c.ResourceCheckTier)
	if err != nil {
		return model.TierBackground
	}
	return tier
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return errors.New("server.node_id is required")
	}
	if c.Admin.Port <= 0 || c.Admin.Port > 65535 {
		return errors.New("admin.port must be between 1 and 65535")
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return errors.New("server.grpc_port must be between 0 and 65535")
	}
	if c.Loader.BackgroundDelay < 0 {
		return errors.New("loader.background_delay must not be negative")
	}
	if c.Loader.ResourceCheckTier != "" {
		if _, err := model.ParseTier(c.Loader.ResourceCheckTier); err != nil {
			return errors.New("loader.resource_check_tier must be a tier name")
		}
	}
	if c.Analyzer.MaxEvents <= 0 {
		return errors.New("analyzer.max_events must be positive")
	}
	if c.Analyzer.SequenceWindow <= 0 {
		return errors.New("analyzer.sequence_window must be positive")
	}
	if c.Scheduler.CleanupHour < 0 || c.Scheduler.CleanupHour > 23 {
		return errors.New("scheduler.cleanup_hour must be between 0 and 23")
	}
	if c.Scheduler.RetentionDays <= 0 {
		return errors.New("scheduler.retention_days must be positive")
	}
	if c.Learning.WindowDays <= 0 {
		return errors.New("learning.window_days must be positive")
	}
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return errors.New("database.host is required")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required")
		}
		if c.Database.User == "" {
			return errors.New("database.user is required")
		}
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}
	if c.RateLimiter.Enabled && c.RateLimiter.RequestsPerSecond <= 0 {
		return errors.New("rate_limiter.requests_per_second must be positive")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Admin.BasePath == "" {
		c.Admin.BasePath = "/startup-optimizer"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			NodeID:          "optimizer-1",
			GRPCPort:        50051,
			ManifestPath:    "./configs/components.yaml",
			ShutdownTimeout: 30 * time.Second,
		},
		Admin: AdminConfig{
			Port:         8080,
			BasePath:     "/startup-optimizer",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			CORSOrigins:  []string{"*"},
		},
		Loader: LoaderConfig{
			BackgroundDelay:   2 * time.Second,
			ResourceCheckTier: "BACKGROUND",
			InitTimeout:       30 * time.Second,
			SampleInterval:    15 * time.Second,
		},
		Analyzer: AnalyzerConfig{
			MaxEvents:      1000,
			SequenceWindow: 60 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:            true,
			ClassifyInterval:   time.Hour,
			PreloadInterval:    6 * time.Hour,
			ValidateInterval:   15 * time.Minute,
			CleanupCheckPeriod: time.Hour,
			CleanupHour:        3,
			RetentionDays:      30,
			ClassifyPeriodDays: 7,
			SnapshotInterval:   time.Hour,
		},
		Learning: LearningConfig{
			Enabled:    true,
			WindowDays: 7,
		},
		Tracker: TrackerConfig{
			Workers:          4,
			QueueSize:        1000,
			PreloadFollowers: true,
		},
		Database: DatabaseConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			Database:        "startup_optimizer",
			User:            "optimizer",
			Password:        "",
			MaxConnections:  20,
			MinConnections:  2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled:     false,
			Host:        "localhost",
			Port:        6379,
			DB:          0,
			KeyPrefix:   "startup-optimizer",
			SnapshotTTL: 30 * 24 * time.Hour,
		},
		Gossip: GossipConfig{
			Enabled:        false,
			BindPort:       7946,
			GossipInterval: 200 * time.Millisecond,
			ProbeTimeout:   500 * time.Millisecond,
			ProbeInterval:  time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           false,
			RequestsPerSecond: 50,
			BurstSize:         100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
