package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{
			name:   "defaults are valid",
			config: Default(),
		},
		{
			name: "missing temp dir",
			config: &Config{
				Cache:    CacheConfig{Limit: 1, KeepFree: 1},
				Resolver: ResolverConfig{SymlinkBudget: 1},
				Index:    IndexConfig{CheckpointDistance: 1},
			},
			wantErr: "temp_dir",
		},
		{
			name: "negative cache limit",
			config: &Config{
				TempDir:  "/tmp/x",
				Cache:    CacheConfig{Limit: -1},
				Resolver: ResolverConfig{SymlinkBudget: 1},
				Index:    IndexConfig{CheckpointDistance: 1},
			},
			wantErr: "cache.limit",
		},
		{
			name: "zero symlink budget",
			config: &Config{
				TempDir:  "/tmp/x",
				Resolver: ResolverConfig{SymlinkBudget: 0},
				Index:    IndexConfig{CheckpointDistance: 1},
			},
			wantErr: "symlink_budget",
		},
		{
			name: "duplicate extfs extension",
			config: &Config{
				TempDir:  "/tmp/x",
				Resolver: ResolverConfig{SymlinkBudget: 1},
				Index:    IndexConfig{CheckpointDistance: 1},
				Extfs: []ExtfsProgram{
					{Name: "a", Extension: ".iso"},
					{Name: "b", Extension: ".iso"},
				},
			},
			wantErr: "registered more than once",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDefault_ConnectTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, Default().Remote.ConnectTimeout)
}
