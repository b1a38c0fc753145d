package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"

	"github.com/aevon-lab/insight/internal/core/sources"
	"github.com/aevon-lab/insight/internal/core/warehouse"
	"github.com/aevon-lab/insight/internal/discovery"
)

// Config represents the top-level application config plus the loaded data sources.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Warehouse WarehouseConfig `koanf:"warehouse"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	Snapshots SnapshotConfig  `koanf:"snapshots"`
	Sources   SourcesConfig   `koanf:"sources"`

	// Loaded is populated by Load after parsing the source files.
	Loaded []sources.Source `koanf:"-"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type WarehouseConfig struct {
	MaxOpenConns    int    `koanf:"max_open_conns"`
	MaxIdleConns    int    `koanf:"max_idle_conns"`
	ConnMaxLifetime string `koanf:"conn_max_lifetime"` // parsed and validated on startup
	ConnectTimeout  string `koanf:"connect_timeout"`
}

type DiscoveryConfig struct {
	Schedule            string  `koanf:"schedule"` // cron spec; empty disables scheduled re-discovery
	Concurrency         int     `koanf:"concurrency"`
	FieldsPerQuery      int     `koanf:"fields_per_query"`
	QueriesPerSecond    float64 `koanf:"queries_per_second"` // 0 = unlimited
	DefaultLookbackDays int     `koanf:"default_lookback_days"`
	OnStartup           bool    `koanf:"on_startup"`
}

type SnapshotConfig struct {
	CacheCapacity int `koanf:"cache_capacity"`
}

type SourcesConfig struct {
	Path string `koanf:"path"`
}

// Settings converts the warehouse section into pool settings. Call after Validate.
func (c WarehouseConfig) Settings() warehouse.Settings {
	lifetime, _ := time.ParseDuration(c.ConnMaxLifetime)
	timeout, _ := time.ParseDuration(c.ConnectTimeout)
	return warehouse.Settings{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: lifetime,
		ConnectTimeout:  timeout,
	}
}

// Options converts the discovery section into engine options.
func (c DiscoveryConfig) Options() discovery.Options {
	return discovery.Options{
		FieldsPerQuery:   c.FieldsPerQuery,
		Concurrency:      c.Concurrency,
		QueriesPerSecond: c.QueriesPerSecond,
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if c.Warehouse.MaxOpenConns <= 0 {
		return fmt.Errorf("warehouse.max_open_conns must be > 0")
	}
	if c.Warehouse.MaxIdleConns < 0 {
		return fmt.Errorf("warehouse.max_idle_conns must be >= 0")
	}
	for key, value := range map[string]string{
		"warehouse.conn_max_lifetime": c.Warehouse.ConnMaxLifetime,
		"warehouse.connect_timeout":   c.Warehouse.ConnectTimeout,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
	}

	if c.Discovery.Schedule != "" {
		if _, err := cron.ParseStandard(c.Discovery.Schedule); err != nil {
			return fmt.Errorf("invalid discovery.schedule %q: %w", c.Discovery.Schedule, err)
		}
	}
	if c.Discovery.Concurrency <= 0 {
		return fmt.Errorf("discovery.concurrency must be > 0")
	}
	if c.Discovery.FieldsPerQuery <= 0 {
		return fmt.Errorf("discovery.fields_per_query must be > 0")
	}
	if c.Discovery.QueriesPerSecond < 0 {
		return fmt.Errorf("discovery.queries_per_second must be >= 0")
	}
	if c.Discovery.DefaultLookbackDays <= 0 {
		return fmt.Errorf("discovery.default_lookback_days must be > 0")
	}

	if c.Snapshots.CacheCapacity <= 0 {
		return fmt.Errorf("snapshots.cache_capacity must be > 0")
	}

	if strings.TrimSpace(c.Sources.Path) == "" {
		return fmt.Errorf("sources.path is required")
	}
	return nil
}

// Load parses config from file + env, validates it, then loads the data source definitions.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                     8080,
		"server.host":                     "0.0.0.0",
		"server.max_body_size_mb":         1,
		"server.mode":                     "release",
		"warehouse.max_open_conns":        10,
		"warehouse.max_idle_conns":        5,
		"warehouse.conn_max_lifetime":     "30m",
		"warehouse.connect_timeout":       "10s",
		"discovery.schedule":              "",
		"discovery.concurrency":           discovery.DefaultConcurrency,
		"discovery.fields_per_query":      discovery.DefaultFieldsPerQuery,
		"discovery.queries_per_second":    0,
		"discovery.default_lookback_days": 30,
		"discovery.on_startup":            false,
		"snapshots.cache_capacity":        64,
		"sources.path":                    "./config/sources",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("INSIGHT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "INSIGHT_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := sources.NewFileSystemRepository(cfg.Sources.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load data sources: %w", err)
	}
	loaded := repo.List(context.Background())
	if len(loaded) == 0 {
		return nil, fmt.Errorf("no data sources found in %q", cfg.Sources.Path)
	}
	cfg.Loaded = loaded

	return &cfg, nil
}
