// Package volatile implements the pure in-memory filesystem named in spec
// §2's component table ("Volatile / state in-memory filesystems"): an
// avfscore.Handler backed entirely by an avns.Namespace, with no base file
// at all, used both directly (mount name "volatile") and as the storage
// layer under internal/avfsstat's control surface.
//
// The tree/node-data split is grounded on internal/avns.Namespace itself
// (opaque per-entry user data) the same way internal/archive attaches
// *Node to entries; here the attached value is *inode, holding a byte
// buffer instead of a base-file offset.
package volatile

import (
	"io"
	"sync"
	"time"

	"github.com/layerfs/avfs/internal/avfscore"
	"github.com/layerfs/avfs/internal/avns"
)

// inode is the per-entry user data: in-memory content (for regular files),
// a symlink target, and the entry's stat.
type inode struct {
	mu      sync.RWMutex
	stat    avfscore.Stat
	data    []byte
	symlink string
}

// FS is an avfscore.Handler backed by an in-memory namespace. The zero
// value is not usable; use New.
type FS struct {
	avfscore.BaseHandler

	name   string
	ns     *avns.Namespace
	nextIno uint64
	mu     sync.Mutex
}

// New creates an empty volatile filesystem registered under name (spec's
// well-known "volatile" handler, or a distinct name for a second instance
// such as avfsstat's backing store).
func New(name string) *FS {
	fs := &FS{name: name, ns: avns.New(false)}
	root := fs.ns.Root()
	root.SetData(&inode{stat: avfscore.Stat{Type: avfscore.TypeDirectory, Mode: 0o755, Ino: fs.allocIno(), Mtime: time.Now()}})
	return fs
}

func (fs *FS) allocIno() uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextIno++
	return fs.nextIno
}

func (fs *FS) Name() string         { return fs.name }
func (fs *FS) Extensions() []string { return nil }
func (fs *FS) NoLock() bool         { return false }
func (fs *FS) Close() error         { return nil }

// entryOf resolves ve.Data (an *avns.Entry) or the namespace root for the
// mount-point ventry itself.
func (fs *FS) entryOf(ve *avfscore.VEntry) *avns.Entry {
	if e, ok := ve.Data.(*avns.Entry); ok {
		return e
	}
	return fs.ns.Root()
}

func inodeOf(e *avns.Entry) (*inode, error) {
	n, ok := e.Data().(*inode)
	if !ok {
		return nil, avfscore.ErrNotFound
	}
	return n, nil
}

func (fs *FS) Lookup(ve *avfscore.VEntry, name string) (*avfscore.VEntry, error) {
	parent := fs.entryOf(ve)
	if name == "" {
		return &avfscore.VEntry{Handler: fs, Data: parent}, nil
	}
	entry, ok := fs.ns.Find(parent, name)
	if !ok {
		return nil, avfscore.ErrNotFound
	}
	if entry.Data() == nil {
		return nil, avfscore.ErrNotFound
	}
	return &avfscore.VEntry{Handler: fs, Data: entry}, nil
}

func (fs *FS) Open(ve *avfscore.VEntry, flags avfscore.OpenFlag) (avfscore.VFile, error) {
	entry := fs.entryOf(ve)
	n, err := inodeOf(entry)
	if err != nil {
		if flags&avfscore.OCreat == 0 {
			return nil, err
		}
		n = &inode{stat: avfscore.Stat{Type: avfscore.TypeRegular, Mode: 0o644, Ino: fs.allocIno(), Mtime: time.Now()}}
		entry.SetData(n)
	} else if flags&avfscore.OExcl != 0 && flags&avfscore.OCreat != 0 {
		return nil, avfscore.ErrExists
	}

	n.mu.Lock()
	if flags&avfscore.OTrunc != 0 {
		n.data = nil
		n.stat.Size = 0
	}
	n.mu.Unlock()

	return &file{fs: fs, entry: entry, node: n}, nil
}

func (fs *FS) GetAttr(ve *avfscore.VEntry) (avfscore.Stat, error) {
	n, err := inodeOf(fs.entryOf(ve))
	if err != nil {
		return avfscore.Stat{}, err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stat, nil
}

func (fs *FS) ReadDir(ve *avfscore.VEntry) ([]avfscore.DirEntry, error) {
	entry := fs.entryOf(ve)
	n, err := inodeOf(entry)
	if err != nil {
		return nil, err
	}
	if n.stat.Type != avfscore.TypeDirectory {
		return nil, avfscore.ErrNotDir
	}

	out := []avfscore.DirEntry{
		{Name: ".", Ino: n.stat.Ino, Type: avfscore.TypeDirectory},
	}
	if parent := entry.Parent(); parent != nil {
		if pn, err := inodeOf(parent); err == nil {
			out = append(out, avfscore.DirEntry{Name: "..", Ino: pn.stat.Ino, Type: avfscore.TypeDirectory})
		}
	} else {
		out = append(out, avfscore.DirEntry{Name: "..", Ino: n.stat.Ino, Type: avfscore.TypeDirectory})
	}

	for _, child := range entry.Children() {
		cn, ok := child.Data().(*inode)
		if !ok {
			continue
		}
		out = append(out, avfscore.DirEntry{Name: child.Name(), Ino: cn.stat.Ino, Type: cn.stat.Type})
	}
	return out, nil
}

func (fs *FS) ReadLink(ve *avfscore.VEntry) (string, error) {
	n, err := inodeOf(fs.entryOf(ve))
	if err != nil {
		return "", err
	}
	if n.stat.Type != avfscore.TypeSymlink {
		return "", avfscore.ErrInvalidArgument
	}
	return n.symlink, nil
}

func (fs *FS) Access(ve *avfscore.VEntry, flags avfscore.OpenFlag) error {
	_, err := inodeOf(fs.entryOf(ve))
	return err
}

func (fs *FS) Unlink(ve *avfscore.VEntry) error {
	entry := fs.entryOf(ve)
	n, err := inodeOf(entry)
	if err != nil {
		return err
	}
	if n.stat.Type == avfscore.TypeDirectory {
		return avfscore.ErrIsDir
	}
	fs.ns.Remove(entry)
	return nil
}

func (fs *FS) Rmdir(ve *avfscore.VEntry) error {
	entry := fs.entryOf(ve)
	n, err := inodeOf(entry)
	if err != nil {
		return err
	}
	if n.stat.Type != avfscore.TypeDirectory {
		return avfscore.ErrNotDir
	}
	if len(entry.Children()) > 0 {
		return avfscore.ErrNotEmpty
	}
	fs.ns.Remove(entry)
	return nil
}

func (fs *FS) Mkdir(ve *avfscore.VEntry, name string, mode uint32) error {
	parent := fs.entryOf(ve)
	return fs.create(parent, name, func() *inode {
		return &inode{stat: avfscore.Stat{Type: avfscore.TypeDirectory, Mode: mode, Ino: fs.allocIno(), Mtime: time.Now()}}
	})
}

func (fs *FS) Mknod(ve *avfscore.VEntry, name string, mode uint32) error {
	parent := fs.entryOf(ve)
	return fs.create(parent, name, func() *inode {
		return &inode{stat: avfscore.Stat{Type: avfscore.TypeRegular, Mode: mode, Ino: fs.allocIno(), Mtime: time.Now()}}
	})
}

// create is shared by Mkdir/Mknod/Symlink: it looks up (lazily creating)
// the namespace entry for name under parent and attaches a fresh inode,
// failing if one is already attached.
func (fs *FS) create(parent *avns.Entry, name string, build func() *inode) error {
	entry := fs.ns.Lookup(parent, name)
	if entry.Data() != nil {
		return avfscore.ErrExists
	}
	entry.SetData(build())
	return nil
}

func (fs *FS) Rename(oldVE, newParentVE *avfscore.VEntry, newName string) error {
	oldEntry := fs.entryOf(oldVE)
	if _, err := inodeOf(oldEntry); err != nil {
		return err
	}
	newParent := fs.entryOf(newParentVE)
	fs.ns.Rename(oldEntry, newParent, newName)
	return nil
}

func (fs *FS) Link(oldVE, newParentVE *avfscore.VEntry, newName string) error {
	return avfscore.ErrNotSupported
}

func (fs *FS) Symlink(target string, ve *avfscore.VEntry, name string) error {
	parent := fs.entryOf(ve)
	return fs.create(parent, name, func() *inode {
		return &inode{
			stat:    avfscore.Stat{Type: avfscore.TypeSymlink, Mode: 0o777, Ino: fs.allocIno(), Mtime: time.Now()},
			symlink: target,
		}
	})
}

func (fs *FS) Truncate(ve *avfscore.VEntry, size int64) error {
	if size < 0 {
		return avfscore.ErrInvalidArgument
	}
	n, err := inodeOf(fs.entryOf(ve))
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if size < int64(len(n.data)) {
		n.data = n.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, n.data)
		n.data = grown
	}
	n.stat.Size = size
	return nil
}

func (fs *FS) GetPath(ve *avfscore.VEntry) (string, error) {
	return fs.ns.GetPath(fs.entryOf(ve)), nil
}

// file is an open handle on a volatile inode.
type file struct {
	avfscore.BaseVFile
	fs    *FS
	entry *avns.Entry
	node  *inode
}

func (f *file) Pread(p []byte, offset int64) (int, error) {
	f.node.mu.RLock()
	defer f.node.mu.RUnlock()
	if f.node.stat.Type == avfscore.TypeDirectory {
		return 0, avfscore.ErrIsDir
	}
	if offset >= int64(len(f.node.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.node.data[offset:])
	return n, nil
}

func (f *file) Pwrite(p []byte, offset int64) (int, error) {
	f.node.mu.Lock()
	defer f.node.mu.Unlock()
	end := offset + int64(len(p))
	if end > int64(len(f.node.data)) {
		grown := make([]byte, end)
		copy(grown, f.node.data)
		f.node.data = grown
	}
	copy(f.node.data[offset:end], p)
	if end > f.node.stat.Size {
		f.node.stat.Size = end
	}
	f.node.stat.Mtime = time.Now()
	return len(p), nil
}

func (f *file) GetAttr() (avfscore.Stat, error) {
	f.node.mu.RLock()
	defer f.node.mu.RUnlock()
	return f.node.stat, nil
}

func (f *file) ReadDir() ([]avfscore.DirEntry, error) {
	return f.fs.ReadDir(&avfscore.VEntry{Handler: f.fs, Data: f.entry})
}

func (f *file) Close() error { return nil }
