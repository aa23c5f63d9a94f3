// Package avfsstat implements the control/state filesystem of spec §6: a
// small tree of pseudo-files exposing and mutating process-wide state
// (debug mask, disk-cache limits and usage, registered module names,
// version/copyright strings) instead of storing bytes the way
// internal/volatile does.
//
// The live-getter/setter file shape is grounded on internal/avlog.Mask's
// own atomic-mask pattern and internal/diskcache.Manager's accessors;
// avfsstat is simply a filesystem façade wired directly to them, the same
// role internal/pool.Manager's GetMetrics/SetProviders play for the
// teacher's pool package.
package avfsstat

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/layerfs/avfs/internal/avfscore"
	"github.com/layerfs/avfs/internal/avlog"
	"github.com/layerfs/avfs/internal/diskcache"
)

// node describes one pseudo-file: Get renders its current content, Set (if
// non-nil) applies a write, and IsDir marks directories whose children are
// named in Entries.
type node struct {
	isDir   bool
	entries []string
	get     func() string
	set     func(string) error
}

// FS is the "avfsstat" handler, rooted at whatever path it is mounted on.
// It holds no namespace of its own: every path under it is a fixed,
// statically known pseudo-file resolved by name.
type FS struct {
	avfscore.BaseHandler

	mu       sync.Mutex
	registry *avfscore.Registry
	disk     *diskcache.Manager
	nodes    map[string]*node
}

// New creates the control filesystem, wired to registry (for "modules")
// and disk (for the "cache/*" tree).
func New(registry *avfscore.Registry, disk *diskcache.Manager) *FS {
	fs := &FS{registry: registry, disk: disk}
	fs.nodes = map[string]*node{
		"/": {isDir: true, entries: []string{"debug", "cache", "modules", "version", "copyright"}},

		"/debug": {
			get: func() string { return strconv.FormatUint(uint64(avlog.Mask()), 8) },
			set: func(v string) error {
				m, err := strconv.ParseUint(strings.TrimSpace(v), 8, 32)
				if err != nil {
					return avfscore.ErrInvalidArgument
				}
				avlog.SetMask(avlog.Level(m))
				return nil
			},
		},

		"/cache": {isDir: true, entries: []string{"limit", "keep_free", "usage", "clear"}},

		"/cache/limit": {
			get: func() string { return strconv.FormatInt(disk.Limit(), 10) },
			set: func(v string) error { return setInt64(strings.TrimSpace(v), disk.SetLimit) },
		},
		"/cache/keep_free": {
			get: func() string { return strconv.FormatInt(disk.KeepFree(), 10) },
			set: func(v string) error { return setInt64(strings.TrimSpace(v), disk.SetKeepFree) },
		},
		"/cache/usage": {
			get: func() string { return strconv.FormatInt(disk.Usage(), 10) },
		},
		"/cache/clear": {
			get: func() string { return "0" },
			set: func(v string) error { disk.Clear(); return nil },
		},

		"/modules": {
			get: func() string { return strings.Join(registry.Names(), "\n") + "\n" },
		},
		"/version": {
			get: func() string { return avfscore.Version + "\n" },
		},
		"/copyright": {
			get: func() string { return avfscore.Copyright + "\n" },
		},
	}
	return fs
}

func setInt64(v string, apply func(int64)) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return avfscore.ErrInvalidArgument
	}
	apply(n)
	return nil
}

func (fs *FS) Name() string         { return "avfsstat" }
func (fs *FS) Extensions() []string { return nil }
func (fs *FS) NoLock() bool         { return false }
func (fs *FS) Close() error         { return nil }

// OnlyRoot reports that avfsstat may only be mounted at the filesystem
// root, per spec §6's description of it as a singleton control surface.
func (fs *FS) OnlyRoot() bool { return true }

func (fs *FS) path(ve *avfscore.VEntry) string {
	if ve == nil || ve.Data == nil {
		return "/"
	}
	p, _ := ve.Data.(string)
	if p == "" {
		return "/"
	}
	return p
}

func (fs *FS) lookup(p string) (*node, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[p]
	return n, ok
}

func (fs *FS) Lookup(ve *avfscore.VEntry, name string) (*avfscore.VEntry, error) {
	base := fs.path(ve)
	if _, ok := fs.lookup(base); !ok {
		return nil, avfscore.ErrNotFound
	}

	var next string
	switch name {
	case "", ".":
		next = base
	case "..":
		if base == "/" {
			next = "/"
		} else {
			next = base[:strings.LastIndexByte(base, '/')]
			if next == "" {
				next = "/"
			}
		}
	default:
		if base == "/" {
			next = "/" + name
		} else {
			next = base + "/" + name
		}
	}

	if _, ok := fs.lookup(next); !ok {
		return nil, avfscore.ErrNotFound
	}
	return &avfscore.VEntry{Handler: fs, Data: next}, nil
}

func (fs *FS) GetAttr(ve *avfscore.VEntry) (avfscore.Stat, error) {
	n, ok := fs.lookup(fs.path(ve))
	if !ok {
		return avfscore.Stat{}, avfscore.ErrNotFound
	}
	if n.isDir {
		return avfscore.Stat{Type: avfscore.TypeDirectory, Mode: 0o555}, nil
	}
	mode := uint32(0o444)
	if n.set != nil {
		mode = 0o644
	}
	return avfscore.Stat{Type: avfscore.TypeRegular, Mode: mode, Size: int64(len(n.get()))}, nil
}

func (fs *FS) ReadDir(ve *avfscore.VEntry) ([]avfscore.DirEntry, error) {
	n, ok := fs.lookup(fs.path(ve))
	if !ok || !n.isDir {
		return nil, avfscore.ErrNotDir
	}
	out := []avfscore.DirEntry{
		{Name: ".", Type: avfscore.TypeDirectory},
		{Name: "..", Type: avfscore.TypeDirectory},
	}
	names := append([]string(nil), n.entries...)
	sort.Strings(names)
	for _, name := range names {
		out = append(out, avfscore.DirEntry{Name: name, Type: avfscore.TypeRegular})
	}
	return out, nil
}

func (fs *FS) Access(ve *avfscore.VEntry, flags avfscore.OpenFlag) error {
	n, ok := fs.lookup(fs.path(ve))
	if !ok {
		return avfscore.ErrNotFound
	}
	if flags.AllowsWrite() && n.set == nil {
		return avfscore.ErrPermission
	}
	return nil
}

func (fs *FS) Open(ve *avfscore.VEntry, flags avfscore.OpenFlag) (avfscore.VFile, error) {
	n, ok := fs.lookup(fs.path(ve))
	if !ok {
		return nil, avfscore.ErrNotFound
	}
	if n.isDir {
		return nil, avfscore.ErrIsDir
	}
	if flags.AllowsWrite() && n.set == nil {
		return nil, avfscore.ErrPermission
	}
	return &file{fs: fs, node: n}, nil
}

func (fs *FS) GetPath(ve *avfscore.VEntry) (string, error) { return fs.path(ve), nil }

// file is an open handle on one pseudo-file. Writes are buffered until
// Close, the natural point to apply a setting written as "echo N >
// path"-style single writes.
type file struct {
	avfscore.BaseVFile
	fs      *FS
	node    *node
	pending []byte
	dirty   bool
}

func (f *file) Pread(p []byte, offset int64) (int, error) {
	content := f.node.get()
	if offset >= int64(len(content)) {
		return 0, nil
	}
	n := copy(p, content[offset:])
	return n, nil
}

func (f *file) Pwrite(p []byte, offset int64) (int, error) {
	if f.node.set == nil {
		return 0, avfscore.ErrPermission
	}
	end := offset + int64(len(p))
	if end > int64(len(f.pending)) {
		grown := make([]byte, end)
		copy(grown, f.pending)
		f.pending = grown
	}
	copy(f.pending[offset:end], p)
	f.dirty = true
	return len(p), nil
}

func (f *file) GetAttr() (avfscore.Stat, error) {
	mode := uint32(0o444)
	if f.node.set != nil {
		mode = 0o644
	}
	return avfscore.Stat{Type: avfscore.TypeRegular, Mode: mode, Size: int64(len(f.node.get()))}, nil
}

func (f *file) Close() error {
	if !f.dirty {
		return nil
	}
	return f.node.set(string(f.pending))
}
