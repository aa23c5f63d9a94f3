package avfscore

import (
	"os"

	"github.com/layerfs/avfs/internal/avlog"
	"github.com/layerfs/avfs/internal/diskcache"
	"github.com/layerfs/avfs/internal/filecache"
)

// Version and Copyright back the avfsstat "version"/"copyright" pseudo-files
// of spec §6.
const (
	Version   = "avfs/1.0"
	Copyright = "Copyright (c) the avfs contributors"
)

// Context bundles the process-wide state the original keeps as global
// variables (the filecache singleton, the disk-cache LRU, the handler
// registry, the temp directory) into one value threaded through explicitly
// — the Go-idiomatic replacement for ambient globals, per SPEC_FULL.md §9.
type Context struct {
	Registry  *Registry
	FileCache *filecache.Cache
	DiskCache *diskcache.Manager
	TempDir   string

	cleanupTemp bool
}

// NewContext creates a Context with its own temp directory (mode 0700,
// per spec §5's resource policy), removed by Close.
func NewContext() (*Context, error) {
	dir, err := os.MkdirTemp("", ".avfs_tmp_")
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	return &Context{
		Registry:    NewRegistry(),
		FileCache:   filecache.New(),
		DiskCache:   diskcache.NewManager(),
		TempDir:     dir,
		cleanupTemp: true,
	}, nil
}

// Close runs every handler's destructor and removes the temp directory,
// the equivalent of the original's exit hook.
func (c *Context) Close() error {
	c.Registry.CloseAll()
	if c.cleanupTemp {
		if err := os.RemoveAll(c.TempDir); err != nil {
			avlog.Warning("avfscore: failed to remove temp dir", "dir", c.TempDir, "error", err)
		}
	}
	return nil
}
