// Package dispatch implements the operation-dispatch façade of
// SPEC_FULL.md §4.10: thin, lock-acquiring wrappers (av_open/av_read/…)
// over the resolver and the per-handler method tables, enforcing the
// access-mode check against the open handle's flags. Path-based calls run
// under the per-handler coarse lock of spec §5; calls on an open Handle take
// only that handle's own lock.
//
// The per-call "acquire coarse lock, call method, release" shape is
// grounded on the teacher's internal/fuse/adapter_test.go and
// internal/fuse/dir.go, the closest analogue in the pack to a dispatch
// layer sitting in front of a VFS backend.
package dispatch

import (
	"errors"
	"io"
	"sync"

	"github.com/layerfs/avfs/internal/avfscore"
	"github.com/layerfs/avfs/internal/resolver"
)

// Dispatcher is the process-wide operation dispatch surface, built from a
// Resolver. It owns the per-handler coarse locks named in spec §5 (lock
// hierarchy position 2): a Handler interface value carries no storage of
// its own, so the locks live here, keyed by handler identity.
type Dispatcher struct {
	resolver *resolver.Resolver

	mu    sync.Mutex
	locks map[avfscore.Handler]*sync.Mutex
}

// New creates a Dispatcher over r.
func New(r *resolver.Resolver) *Dispatcher {
	return &Dispatcher{resolver: r, locks: make(map[avfscore.Handler]*sync.Mutex)}
}

func (d *Dispatcher) handlerLock(h avfscore.Handler) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[h]
	if !ok {
		l = &sync.Mutex{}
		d.locks[h] = l
	}
	return l
}

// withHandler runs fn while holding h's coarse lock, unless h opts out via
// NoLock (spec §5's NOLOCK handler flag).
func (d *Dispatcher) withHandler(h avfscore.Handler, fn func() error) error {
	if h.NoLock() {
		return fn()
	}
	l := d.handlerLock(h)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// Handle is an open vfile: spec §3's vfile, carrying its own position and a
// lock that serializes calls through one handle (lock hierarchy position 1).
// Handle methods take only this lock, not the handler's coarse lock.
type Handle struct {
	mu    sync.Mutex
	d     *Dispatcher
	ve    *avfscore.VEntry
	vf    avfscore.VFile
	flags avfscore.OpenFlag
	pos   int64
}

// Open resolves path and opens it, the av_open entry point. O_CREAT on a
// missing path is handled by creating the node first (via Mknod) and
// re-resolving, since a handler's Open is only ever given an already
// resolved ventry.
func (d *Dispatcher) Open(path string, flags avfscore.OpenFlag) (*Handle, error) {
	ve, err := d.resolver.Resolve(path)
	if errors.Is(err, avfscore.ErrNotFound) && flags&avfscore.OCreat != 0 {
		if merr := d.Mknod(path, 0o644); merr != nil {
			return nil, merr
		}
		ve, err = d.resolver.Resolve(path)
	} else if err == nil && flags&avfscore.OCreat != 0 && flags&avfscore.OExcl != 0 {
		return nil, avfscore.ErrExists
	}
	if err != nil {
		return nil, err
	}

	var vf avfscore.VFile
	err = d.withHandler(ve.Handler, func() error {
		var oerr error
		vf, oerr = ve.Handler.Open(ve, flags)
		return oerr
	})
	if err != nil {
		return nil, err
	}

	return &Handle{d: d, ve: ve, vf: vf, flags: flags}, nil
}

func (h *Handle) checkMode(write bool) error {
	if h.flags&avfscore.ONoperm != 0 {
		return avfscore.ErrPermission
	}
	if write && !h.flags.AllowsWrite() {
		return avfscore.ErrPermission
	}
	if !write && !h.flags.AllowsRead() {
		return avfscore.ErrPermission
	}
	return nil
}

// Pread is av_pread: a positioned read that does not disturb the handle's
// cursor.
func (h *Handle) Pread(p []byte, offset int64) (int, error) {
	if err := h.checkMode(false); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vf.Pread(p, offset)
}

// Read is av_read: reads at the handle's current position and advances it.
func (h *Handle) Read(p []byte) (int, error) {
	if err := h.checkMode(false); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.vf.Pread(p, h.pos)
	h.pos += int64(n)
	return n, err
}

// Pwrite is av_pwrite.
func (h *Handle) Pwrite(p []byte, offset int64) (int, error) {
	if err := h.checkMode(true); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vf.Pwrite(p, offset)
}

// Write is av_write: writes at the handle's current position and advances
// it (or at EOF, under O_APPEND — left to the handler to interpret via
// GetAttr().Size, since append semantics are handler-private).
func (h *Handle) Write(p []byte) (int, error) {
	if err := h.checkMode(true); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	pos := h.pos
	if h.flags&avfscore.OAppend != 0 {
		st, err := h.vf.GetAttr()
		if err == nil {
			pos = st.Size
		}
	}
	n, err := h.vf.Pwrite(p, pos)
	h.pos = pos + int64(n)
	return n, err
}

// Lseek is av_lseek. whence follows io.Seeker conventions; SEEK_SET with a
// negative offset is EINVAL per spec §8's boundary behaviors.
func (h *Handle) Lseek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = h.pos + offset
	case io.SeekEnd:
		st, err := h.vf.GetAttr()
		if err != nil {
			return 0, err
		}
		newPos = st.Size + offset
	default:
		return 0, avfscore.ErrInvalidArgument
	}
	if newPos < 0 {
		return 0, avfscore.ErrInvalidArgument
	}
	h.pos = newPos
	return newPos, nil
}

// GetAttr is av_getattr on an open handle.
func (h *Handle) GetAttr() (avfscore.Stat, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vf.GetAttr()
}

// ReadDir is av_readdir.
func (h *Handle) ReadDir() ([]avfscore.DirEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vf.ReadDir()
}

// Truncate is av_ftruncate on an open handle.
func (h *Handle) Truncate(size int64) error {
	if size < 0 {
		return avfscore.ErrInvalidArgument
	}
	if err := h.checkMode(true); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ve.Handler.Truncate(h.ve, size)
}

// Close is av_close.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.vf.Close()
}

// --- path-based operations, each a one-shot resolve + dispatch ---

func (d *Dispatcher) resolveParent(path string) (*avfscore.VEntry, error) {
	return d.resolver.Resolve(path)
}

// GetAttr is av_getattr by path.
func (d *Dispatcher) GetAttr(path string) (avfscore.Stat, error) {
	ve, err := d.resolveParent(path)
	if err != nil {
		return avfscore.Stat{}, err
	}
	var st avfscore.Stat
	err = d.withHandler(ve.Handler, func() error {
		var gerr error
		st, gerr = ve.Handler.GetAttr(ve)
		return gerr
	})
	return st, err
}

// ReadDir is av_readdir by path.
func (d *Dispatcher) ReadDir(path string) ([]avfscore.DirEntry, error) {
	ve, err := d.resolveParent(path)
	if err != nil {
		return nil, err
	}
	var entries []avfscore.DirEntry
	err = d.withHandler(ve.Handler, func() error {
		var rerr error
		entries, rerr = ve.Handler.ReadDir(ve)
		return rerr
	})
	return entries, err
}

// Access is av_access.
func (d *Dispatcher) Access(path string, flags avfscore.OpenFlag) error {
	var ve *avfscore.VEntry
	var err error
	if flags&avfscore.ONofollow != 0 {
		ve, err = d.resolver.ResolveNoFollow(path)
	} else {
		ve, err = d.resolveParent(path)
	}
	if err != nil {
		return err
	}
	return d.withHandler(ve.Handler, func() error { return ve.Handler.Access(ve, flags) })
}

// ReadLink is av_readlink: the target path component itself must not be
// chased, or every call would just report the final target's own link (or
// fail outright if that target isn't itself a symlink).
func (d *Dispatcher) ReadLink(path string) (string, error) {
	ve, err := d.resolver.ResolveNoFollow(path)
	if err != nil {
		return "", err
	}
	var target string
	err = d.withHandler(ve.Handler, func() error {
		var rerr error
		target, rerr = ve.Handler.ReadLink(ve)
		return rerr
	})
	return target, err
}

// Unlink is av_unlink: the target itself is removed, not whatever it
// points to, so a symlink named by the final path component is not chased.
func (d *Dispatcher) Unlink(path string) error {
	ve, err := d.resolver.ResolveNoFollow(path)
	if err != nil {
		return err
	}
	return d.withHandler(ve.Handler, func() error { return ve.Handler.Unlink(ve) })
}

// Mkdir is av_mkdir.
func (d *Dispatcher) Mkdir(path string, mode uint32) error {
	parent, name, err := d.resolver.ResolveParent(path)
	if err != nil {
		return err
	}
	return d.withHandler(parent.Handler, func() error { return parent.Handler.Mkdir(parent, name, mode) })
}

// Rmdir is av_rmdir: like Unlink, operates on the entry itself.
func (d *Dispatcher) Rmdir(path string) error {
	ve, err := d.resolver.ResolveNoFollow(path)
	if err != nil {
		return err
	}
	return d.withHandler(ve.Handler, func() error { return ve.Handler.Rmdir(ve) })
}

// Mknod is av_mknod.
func (d *Dispatcher) Mknod(path string, mode uint32) error {
	parent, name, err := d.resolver.ResolveParent(path)
	if err != nil {
		return err
	}
	return d.withHandler(parent.Handler, func() error { return parent.Handler.Mknod(parent, name, mode) })
}

// sameMount reports whether a and b are anchored in the same mount, per
// spec §4.10's "compare canonical generated paths" cross-mount check.
// Handler identity alone is not enough: every archive of a given format
// shares one singleton Handler/Skeleton instance (tarfmt's handler serves
// every .tar file in the namespace), so two entries from two different tar
// archives would otherwise pass. BasePath is the canonical path of the
// file each entry's handler was invoked on (resolver.GeneratePath of the
// mount anchor), so comparing it alongside the handler distinguishes
// distinct archives of the same format while still treating every plain
// posix/volatile entry, which shares both handler and an empty BasePath,
// as one mount.
func sameMount(a, b *avfscore.VEntry) bool {
	return a.Handler == b.Handler && a.BasePath == b.BasePath
}

// Rename is av_rename: neither side follows a final symlink.
func (d *Dispatcher) Rename(oldPath, newPath string) error {
	oldVE, err := d.resolver.ResolveNoFollow(oldPath)
	if err != nil {
		return err
	}
	newParent, newName, err := d.resolver.ResolveParent(newPath)
	if err != nil {
		return err
	}
	if !sameMount(oldVE, newParent) {
		return avfscore.ErrCrossMount
	}
	return d.withHandler(oldVE.Handler, func() error { return oldVE.Handler.Rename(oldVE, newParent, newName) })
}

// Link is av_link: the existing side names the link itself, not its target.
func (d *Dispatcher) Link(oldPath, newPath string) error {
	oldVE, err := d.resolver.ResolveNoFollow(oldPath)
	if err != nil {
		return err
	}
	newParent, newName, err := d.resolver.ResolveParent(newPath)
	if err != nil {
		return err
	}
	if !sameMount(oldVE, newParent) {
		return avfscore.ErrCrossMount
	}
	return d.withHandler(oldVE.Handler, func() error { return oldVE.Handler.Link(oldVE, newParent, newName) })
}

// Symlink is av_symlink.
func (d *Dispatcher) Symlink(target, path string) error {
	parent, name, err := d.resolver.ResolveParent(path)
	if err != nil {
		return err
	}
	return d.withHandler(parent.Handler, func() error { return parent.Handler.Symlink(target, parent, name) })
}

// Truncate is av_truncate by path.
func (d *Dispatcher) Truncate(path string, size int64) error {
	if size < 0 {
		return avfscore.ErrInvalidArgument
	}
	ve, err := d.resolveParent(path)
	if err != nil {
		return err
	}
	return d.withHandler(ve.Handler, func() error { return ve.Handler.Truncate(ve, size) })
}
