// Package config adapts the teacher's viper-based configuration pattern to
// the filesystem's own knobs: disk-cache sizing, temp directory root,
// symlink resolution budget, index checkpoint distance, and the extfs
// program table. Only a table-driven Validate test shipped with the
// teacher in the retrieval pack; config.go/manager.go are built fresh in
// its style.
package config

import (
	"fmt"
	"time"
)

// ExtfsProgram describes one entry of the extfs program table: a named
// external command plus the suffix it claims, mirroring the filter codec's
// "one program per extension" discipline.
type ExtfsProgram struct {
	Name       string `mapstructure:"name"`
	Extension  string `mapstructure:"extension"`
	ListArgs   []string `mapstructure:"list_args"`
	ExtractArgs []string `mapstructure:"extract_args"`
}

// CacheConfig controls internal/diskcache sizing.
type CacheConfig struct {
	Dir      string `mapstructure:"dir"`
	Limit    int64  `mapstructure:"limit"`
	KeepFree int64  `mapstructure:"keep_free"`
}

// ResolverConfig controls internal/resolver's symlink-following budget.
type ResolverConfig struct {
	SymlinkBudget int `mapstructure:"symlink_budget"`
}

// IndexConfig controls internal/codec's checkpoint spacing.
type IndexConfig struct {
	CheckpointDistance int64 `mapstructure:"checkpoint_distance"`
}

// RemoteConfig controls internal/remote fetchers.
type RemoteConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RshKnownHosts  string        `mapstructure:"rsh_known_hosts"`
}

// Config is the root configuration tree, loaded by Manager from a
// YAML/ENV-overridable source.
type Config struct {
	TempDir  string         `mapstructure:"temp_dir"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Index    IndexConfig    `mapstructure:"index"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Extfs    []ExtfsProgram `mapstructure:"extfs"`
}

// Validate checks the config tree for internally-consistent values, the
// same role the teacher's Config.Validate plays before a mount attempt.
func (c *Config) Validate() error {
	if c.TempDir == "" {
		return fmt.Errorf("config: temp_dir must be set")
	}
	if c.Cache.Limit < 0 {
		return fmt.Errorf("config: cache.limit must be >= 0")
	}
	if c.Cache.KeepFree < 0 {
		return fmt.Errorf("config: cache.keep_free must be >= 0")
	}
	if c.Resolver.SymlinkBudget <= 0 {
		return fmt.Errorf("config: resolver.symlink_budget must be > 0")
	}
	if c.Index.CheckpointDistance <= 0 {
		return fmt.Errorf("config: index.checkpoint_distance must be > 0")
	}
	seen := make(map[string]bool, len(c.Extfs))
	for _, p := range c.Extfs {
		if p.Name == "" || p.Extension == "" {
			return fmt.Errorf("config: extfs entries require name and extension")
		}
		if seen[p.Extension] {
			return fmt.Errorf("config: extfs extension %q registered more than once", p.Extension)
		}
		seen[p.Extension] = true
	}
	return nil
}

// Default returns the baseline configuration used when no file or env
// override is present.
func Default() *Config {
	return &Config{
		TempDir: "/tmp/avfs",
		Cache: CacheConfig{
			Dir:      "/tmp/avfs/cache",
			Limit:    1 << 30, // 1 GiB
			KeepFree: 1 << 28, // 256 MiB
		},
		Resolver: ResolverConfig{SymlinkBudget: 40},
		Index:    IndexConfig{CheckpointDistance: 1 << 20},
		Remote:   RemoteConfig{ConnectTimeout: 30 * time.Second},
	}
}
