// aferofs.go implements spf13/afero.Fs and afero.File over
// internal/dispatch, the "trivial translation" SPEC_FULL.md §6-NEW calls
// out as in scope to wire but not to deepen into a real FUSE mount. This
// mirrors the role the teacher's internal/nzbfilesystem package and
// internal/fuse/vfs/file.go play: an afero.Fs facing outward, backed by a
// domain-specific read path underneath.
package posix

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/layerfs/avfs/internal/avfscore"
	"github.com/layerfs/avfs/internal/dispatch"
)

// translateErr maps the internal Errno taxonomy to the stdlib sentinel
// errors afero's callers (os.IsNotExist and friends) expect, the inverse of
// internal/posix/localfs.go's translateStatErr.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, avfscore.ErrNotFound):
		return os.ErrNotExist
	case errors.Is(err, avfscore.ErrExists):
		return os.ErrExist
	case errors.Is(err, avfscore.ErrPermission), errors.Is(err, avfscore.ErrReadOnly):
		return os.ErrPermission
	case errors.Is(err, avfscore.ErrNotSupported):
		return errors.ErrUnsupported
	}
	return err
}

// AferoFS adapts a Dispatcher to afero.Fs.
type AferoFS struct {
	d *dispatch.Dispatcher
}

// NewAferoFS wraps d as an afero.Fs.
func NewAferoFS(d *dispatch.Dispatcher) *AferoFS { return &AferoFS{d: d} }

var _ afero.Fs = (*AferoFS)(nil)

func toOpenFlag(flag int) avfscore.OpenFlag {
	var f avfscore.OpenFlag
	switch {
	case flag&os.O_RDWR != 0:
		f |= avfscore.ORdwr
	case flag&os.O_WRONLY != 0:
		f |= avfscore.OWronly
	}
	if flag&os.O_CREATE != 0 {
		f |= avfscore.OCreat
	}
	if flag&os.O_EXCL != 0 {
		f |= avfscore.OExcl
	}
	if flag&os.O_TRUNC != 0 {
		f |= avfscore.OTrunc
	}
	if flag&os.O_APPEND != 0 {
		f |= avfscore.OAppend
	}
	return f
}

func (a *AferoFS) Create(name string) (afero.File, error) {
	return a.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (a *AferoFS) Mkdir(name string, perm os.FileMode) error {
	return translateErr(a.d.Mkdir(name, uint32(perm.Perm())))
}

func (a *AferoFS) MkdirAll(path string, perm os.FileMode) error {
	if err := a.Mkdir(path, perm); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

func (a *AferoFS) Open(name string) (afero.File, error) {
	return a.OpenFile(name, os.O_RDONLY, 0)
}

func (a *AferoFS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	h, err := a.d.Open(name, toOpenFlag(flag))
	if err != nil {
		return nil, translateErr(err)
	}
	return &aferoFile{d: a.d, h: h, name: name}, nil
}

func (a *AferoFS) Remove(name string) error {
	st, err := a.d.GetAttr(name)
	if err != nil {
		return translateErr(err)
	}
	if st.Type == avfscore.TypeDirectory {
		return translateErr(a.d.Rmdir(name))
	}
	return translateErr(a.d.Unlink(name))
}

func (a *AferoFS) RemoveAll(path string) error {
	st, err := a.d.GetAttr(path)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return translateErr(err)
	}
	if st.Type != avfscore.TypeDirectory {
		return a.Remove(path)
	}
	entries, err := a.d.ReadDir(path)
	if err != nil {
		return translateErr(err)
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if err := a.RemoveAll(joinPath(path, e.Name)); err != nil {
			return err
		}
	}
	return a.Remove(path)
}

func (a *AferoFS) Rename(oldname, newname string) error {
	return translateErr(a.d.Rename(oldname, newname))
}

func (a *AferoFS) Stat(name string) (os.FileInfo, error) {
	st, err := a.d.GetAttr(name)
	if err != nil {
		return nil, translateErr(err)
	}
	return statInfo{name: baseName(name), st: st}, nil
}

func (a *AferoFS) Name() string { return "avfs" }

func (a *AferoFS) Chmod(name string, mode os.FileMode) error { return avfscore.ErrNotSupported }

func (a *AferoFS) Chown(name string, uid, gid int) error { return avfscore.ErrNotSupported }

func (a *AferoFS) Chtimes(name string, atime, mtime time.Time) error {
	return avfscore.ErrNotSupported
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func isNotExist(err error) bool {
	return os.IsNotExist(translateErr(err))
}

// aferoFile adapts a dispatch.Handle to afero.File. ReadDir materializes
// the whole directory per call, matching the teacher's vfs.Dir handling
// for the same reason: the spec exposes ReadDir as one atomic handler call,
// not a cursor protocol.
type aferoFile struct {
	d    *dispatch.Dispatcher
	h    *dispatch.Handle
	name string
}

var _ afero.File = (*aferoFile)(nil)

func (f *aferoFile) Close() error { return translateErr(f.h.Close()) }

func (f *aferoFile) Read(p []byte) (int, error) {
	n, err := f.h.Read(p)
	return n, translateErr(err)
}

func (f *aferoFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.h.Pread(p, off)
	return n, translateErr(err)
}

func (f *aferoFile) Seek(offset int64, whence int) (int64, error) {
	n, err := f.h.Lseek(offset, whence)
	return n, translateErr(err)
}

func (f *aferoFile) Write(p []byte) (int, error) {
	n, err := f.h.Write(p)
	return n, translateErr(err)
}

func (f *aferoFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.h.Pwrite(p, off)
	return n, translateErr(err)
}

func (f *aferoFile) Name() string { return f.name }

func (f *aferoFile) Readdir(count int) ([]os.FileInfo, error) {
	entries, err := f.h.ReadDir()
	if err != nil {
		return nil, translateErr(err)
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		st, err := f.d.GetAttr(joinPath(f.name, e.Name))
		if err != nil {
			continue
		}
		infos = append(infos, statInfo{name: e.Name, st: st})
		if count > 0 && len(infos) >= count {
			break
		}
	}
	return infos, nil
}

func (f *aferoFile) Readdirnames(n int) ([]string, error) {
	infos, err := f.Readdir(n)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

func (f *aferoFile) Stat() (os.FileInfo, error) {
	st, err := f.h.GetAttr()
	if err != nil {
		return nil, translateErr(err)
	}
	return statInfo{name: baseName(f.name), st: st}, nil
}

func (f *aferoFile) Sync() error { return nil }

func (f *aferoFile) Truncate(size int64) error { return translateErr(f.h.Truncate(size)) }

func (f *aferoFile) WriteString(s string) (int, error) { return f.Write([]byte(s)) }

// statInfo adapts avfscore.Stat to os.FileInfo.
type statInfo struct {
	name string
	st   avfscore.Stat
}

func (s statInfo) Name() string { return s.name }
func (s statInfo) Size() int64  { return s.st.Size }
func (s statInfo) Mode() fs.FileMode {
	mode := fs.FileMode(s.st.Mode)
	if s.st.Type == avfscore.TypeDirectory {
		mode |= fs.ModeDir
	}
	if s.st.Type == avfscore.TypeSymlink {
		mode |= fs.ModeSymlink
	}
	return mode
}
func (s statInfo) ModTime() time.Time { return s.st.Mtime }
func (s statInfo) IsDir() bool        { return s.st.Type == avfscore.TypeDirectory }
func (s statInfo) Sys() any           { return s.st }
