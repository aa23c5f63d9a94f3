package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"

	"github.com/layerfs/avfs/internal/pathutil"
)

// Manager provides centralized, reloadable access to Config, matching the
// shape of internal/pool.Manager: a narrow interface over mutex-guarded
// state, with a Reload entry point instead of the pool's Set/Clear/Add
// provider calls.
type Manager interface {
	// Get returns the currently loaded configuration.
	Get() *Config

	// Reload re-reads the backing source and atomically swaps in the new
	// configuration if it validates.
	Reload() error
}

type manager struct {
	mu  sync.RWMutex
	v   *viper.Viper
	cfg *Config
}

// NewManager loads configuration from path (if non-empty) plus
// AVFS_-prefixed environment variables layered on top of Default, and
// returns a Manager ready to serve Get/Reload.
func NewManager(path string) (Manager, error) {
	v := viper.New()
	v.SetEnvPrefix("AVFS")
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("temp_dir", def.TempDir)
	v.SetDefault("cache.dir", def.Cache.Dir)
	v.SetDefault("cache.limit", def.Cache.Limit)
	v.SetDefault("cache.keep_free", def.Cache.KeepFree)
	v.SetDefault("resolver.symlink_budget", def.Resolver.SymlinkBudget)
	v.SetDefault("index.checkpoint_distance", def.Index.CheckpointDistance)
	v.SetDefault("remote.connect_timeout", def.Remote.ConnectTimeout)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	m := &manager{v: v}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *manager) Reload() error {
	cfg := &Config{}
	if err := m.v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := pathutil.CheckDirectoryWritable(cfg.TempDir); err != nil {
		return fmt.Errorf("config: temp_dir: %w", err)
	}
	if cfg.Cache.Dir != "" {
		if err := pathutil.CheckDirectoryWritable(cfg.Cache.Dir); err != nil {
			return fmt.Errorf("config: cache.dir: %w", err)
		}
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}
