// Package config centralises the runtime configuration of the production
// data hub. Values come from an HCL file; anything left unset falls back
// to the defaults below, so a missing config file is not an error.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config holds every tunable of the data-access core. All attributes are
// optional in the HCL file; zero values are replaced by defaults on Load.
type Config struct {
	// Store files. The archive store may legitimately not exist yet.
	LiveDB    string `hcl:"live_db,optional"`
	ArchiveDB string `hcl:"archive_db,optional"`

	// CutoffDate splits the two stores: archive holds production_date <
	// cutoff, live holds production_date >= cutoff. YYYY-MM-DD.
	CutoffDate string `hcl:"cutoff_date,optional"`

	ListenAddr string `hcl:"listen_addr,optional"`

	// DBTimeoutSeconds is the global I/O timeout, also applied as the
	// SQLite busy_timeout on every fresh connection.
	DBTimeoutSeconds     int `hcl:"db_timeout_seconds,optional"`
	SlowQueryThresholdMS int `hcl:"slow_query_threshold_ms,optional"`

	CacheTTLSeconds int `hcl:"cache_ttl_seconds,optional"`
	CacheMaxEntries int `hcl:"cache_max_entries,optional"`

	SandboxTimeoutSeconds int `hcl:"sandbox_timeout_seconds,optional"`

	// Two limiter classes: strict guards the assistant/sandbox endpoints,
	// general covers plain reads.
	RateLimitWindowSeconds int `hcl:"rate_limit_window_seconds,optional"`
	RateLimitStrictMax     int `hcl:"rate_limit_strict_max,optional"`
	RateLimitGeneralMax    int `hcl:"rate_limit_general_max,optional"`

	WatcherIntervalSeconds   int    `hcl:"watcher_interval_seconds,optional"`
	StabilizationWaitSeconds int    `hcl:"stabilization_wait_seconds,optional"`
	StabilizationChecks      int    `hcl:"stabilization_checks,optional"`
	StabilizationMaxRetries  int    `hcl:"stabilization_max_retries,optional"`
	WatcherStatePath         string `hcl:"watcher_state_path,optional"`
}

// Default returns the built-in configuration, mirroring the values the
// ingestion side of the platform was deployed with.
func Default() *Config {
	return &Config{
		LiveDB:                   "database/production_analysis.db",
		ArchiveDB:                "database/archive_2025.db",
		CutoffDate:               "2026-01-01",
		ListenAddr:               ":8600",
		DBTimeoutSeconds:         10,
		SlowQueryThresholdMS:     500,
		CacheTTLSeconds:          300,
		CacheMaxEntries:          200,
		SandboxTimeoutSeconds:    3,
		RateLimitWindowSeconds:   60,
		RateLimitStrictMax:       20,
		RateLimitGeneralMax:      60,
		WatcherIntervalSeconds:   3600,
		StabilizationWaitSeconds: 5,
		StabilizationChecks:      3,
		StabilizationMaxRetries:  5,
		WatcherStatePath:         "database/.watcher_state.json",
	}
}

// Load reads an HCL config file and overlays it on the defaults.
// An empty path, or a path that does not exist, yields Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	var loaded Config
	if err := hclsimple.DecodeFile(path, nil, &loaded); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.merge(&loaded)

	if _, err := time.Parse("2006-01-02", cfg.CutoffDate); err != nil {
		return nil, fmt.Errorf("config: invalid cutoff_date %q: expected YYYY-MM-DD", cfg.CutoffDate)
	}
	return cfg, nil
}

// merge overlays non-zero fields of src onto c.
func (c *Config) merge(src *Config) {
	if src.LiveDB != "" {
		c.LiveDB = src.LiveDB
	}
	if src.ArchiveDB != "" {
		c.ArchiveDB = src.ArchiveDB
	}
	if src.CutoffDate != "" {
		c.CutoffDate = src.CutoffDate
	}
	if src.ListenAddr != "" {
		c.ListenAddr = src.ListenAddr
	}
	if src.DBTimeoutSeconds != 0 {
		c.DBTimeoutSeconds = src.DBTimeoutSeconds
	}
	if src.SlowQueryThresholdMS != 0 {
		c.SlowQueryThresholdMS = src.SlowQueryThresholdMS
	}
	if src.CacheTTLSeconds != 0 {
		c.CacheTTLSeconds = src.CacheTTLSeconds
	}
	if src.CacheMaxEntries != 0 {
		c.CacheMaxEntries = src.CacheMaxEntries
	}
	if src.SandboxTimeoutSeconds != 0 {
		c.SandboxTimeoutSeconds = src.SandboxTimeoutSeconds
	}
	if src.RateLimitWindowSeconds != 0 {
		c.RateLimitWindowSeconds = src.RateLimitWindowSeconds
	}
	if src.RateLimitStrictMax != 0 {
		c.RateLimitStrictMax = src.RateLimitStrictMax
	}
	if src.RateLimitGeneralMax != 0 {
		c.RateLimitGeneralMax = src.RateLimitGeneralMax
	}
	if src.WatcherIntervalSeconds != 0 {
		c.WatcherIntervalSeconds = src.WatcherIntervalSeconds
	}
	if src.StabilizationWaitSeconds != 0 {
		c.StabilizationWaitSeconds = src.StabilizationWaitSeconds
	}
	if src.StabilizationChecks != 0 {
		c.StabilizationChecks = src.StabilizationChecks
	}
	if src.StabilizationMaxRetries != 0 {
		c.StabilizationMaxRetries = src.StabilizationMaxRetries
	}
	if src.WatcherStatePath != "" {
		c.WatcherStatePath = src.WatcherStatePath
	}
}

// DBTimeout is the global I/O timeout as a duration.
func (c *Config) DBTimeout() time.Duration {
	return time.Duration(c.DBTimeoutSeconds) * time.Second
}

// SlowThreshold is the slow-query log threshold as a duration.
func (c *Config) SlowThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMS) * time.Millisecond
}

// CacheTTL is the result-cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// SandboxTimeout is the sandbox wall-clock limit as a duration.
func (c *Config) SandboxTimeout() time.Duration {
	return time.Duration(c.SandboxTimeoutSeconds) * time.Second
}

// WatcherInterval is the background check cadence as a duration.
func (c *Config) WatcherInterval() time.Duration {
	return time.Duration(c.WatcherIntervalSeconds) * time.Second
}
