// Package posix implements the thin, errno-translating entry points AVFS
// exposes to POSIX-facing frontends (open/read/stat/opendir/…), per
// SPEC_FULL.md §6-NEW — deliberately shallow per spec §1's non-goals, since
// the FUSE/preload glue itself is out of scope.
//
// LocalHandler is the "local" bottom-of-stack handler: every virtual path
// ultimately rests on a plain native file, and LocalHandler is the
// avfscore.Handler that serves that bottom layer by calling straight
// through to the os package.
package posix

import (
	"io"
	"os"
	"path/filepath"

	"github.com/layerfs/avfs/internal/avfscore"
)

// LocalHandler serves the bottom-of-stack ventry: a plain native path, no
// archive, no codec, no mount options. It sets NOLOCK (NoLock returns true)
// and never needs NEEDSLASH; the filesystem itself already serializes
// concurrent access.
type LocalHandler struct {
	avfscore.BaseHandler
}

// NewLocalHandler creates the singleton "local" handler used as the base of
// every resolved virtual path.
func NewLocalHandler() *LocalHandler { return &LocalHandler{} }

func (h *LocalHandler) Name() string         { return "local" }
func (h *LocalHandler) Extensions() []string { return nil }
func (h *LocalHandler) NoLock() bool         { return true }

// path extracts the native path carried in ve.Data, or "/" for the
// zero-value root ventry.
func path(ve *avfscore.VEntry) string {
	if ve == nil || ve.Data == nil {
		return "/"
	}
	p, _ := ve.Data.(string)
	if p == "" {
		return "/"
	}
	return p
}

// RootEntry returns the bottom-of-stack ventry for dirPath, for use as a
// resolver.LocalOpener.
func (h *LocalHandler) RootEntry(dirPath string) *avfscore.VEntry {
	return &avfscore.VEntry{Handler: h, Data: filepath.Clean(dirPath)}
}

func (h *LocalHandler) Lookup(ve *avfscore.VEntry, name string) (*avfscore.VEntry, error) {
	base := path(ve)
	var next string
	switch name {
	case "", ".":
		next = base
	case "..":
		next = filepath.Dir(base)
	default:
		next = filepath.Join(base, name)
	}
	if _, err := os.Lstat(next); err != nil {
		return nil, translateStatErr(err)
	}
	return &avfscore.VEntry{Handler: h, Data: next}, nil
}

func (h *LocalHandler) Open(ve *avfscore.VEntry, flags avfscore.OpenFlag) (avfscore.VFile, error) {
	osFlags := toOSFlags(flags)
	f, err := os.OpenFile(path(ve), osFlags, 0o644)
	if err != nil {
		return nil, translateStatErr(err)
	}
	return &localFile{f: f}, nil
}

func (h *LocalHandler) GetAttr(ve *avfscore.VEntry) (avfscore.Stat, error) {
	fi, err := os.Lstat(path(ve))
	if err != nil {
		return avfscore.Stat{}, translateStatErr(err)
	}
	return statFromFileInfo(fi), nil
}

func (h *LocalHandler) ReadDir(ve *avfscore.VEntry) ([]avfscore.DirEntry, error) {
	entries, err := os.ReadDir(path(ve))
	if err != nil {
		return nil, translateStatErr(err)
	}
	out := make([]avfscore.DirEntry, 0, len(entries)+2)
	out = append(out, avfscore.DirEntry{Name: ".", Type: avfscore.TypeDirectory})
	out = append(out, avfscore.DirEntry{Name: "..", Type: avfscore.TypeDirectory})
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, avfscore.DirEntry{Name: e.Name(), Type: fileTypeOf(info.Mode())})
	}
	return out, nil
}

func (h *LocalHandler) ReadLink(ve *avfscore.VEntry) (string, error) {
	target, err := os.Readlink(path(ve))
	if err != nil {
		return "", translateStatErr(err)
	}
	return target, nil
}

func (h *LocalHandler) Access(ve *avfscore.VEntry, flags avfscore.OpenFlag) error {
	_, err := os.Lstat(path(ve))
	if err != nil {
		return translateStatErr(err)
	}
	return nil
}

func (h *LocalHandler) Unlink(ve *avfscore.VEntry) error { return translateStatErr(os.Remove(path(ve))) }
func (h *LocalHandler) Rmdir(ve *avfscore.VEntry) error  { return translateStatErr(os.Remove(path(ve))) }

func (h *LocalHandler) Mkdir(ve *avfscore.VEntry, name string, mode uint32) error {
	return translateStatErr(os.Mkdir(filepath.Join(path(ve), name), os.FileMode(mode)))
}

func (h *LocalHandler) Mknod(ve *avfscore.VEntry, name string, mode uint32) error {
	f, err := os.OpenFile(filepath.Join(path(ve), name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, os.FileMode(mode))
	if err != nil {
		return translateStatErr(err)
	}
	return f.Close()
}

func (h *LocalHandler) Rename(oldVE, newParentVE *avfscore.VEntry, newName string) error {
	return translateStatErr(os.Rename(path(oldVE), filepath.Join(path(newParentVE), newName)))
}

func (h *LocalHandler) Link(oldVE, newParentVE *avfscore.VEntry, newName string) error {
	return translateStatErr(os.Link(path(oldVE), filepath.Join(path(newParentVE), newName)))
}

func (h *LocalHandler) Symlink(target string, ve *avfscore.VEntry, name string) error {
	return translateStatErr(os.Symlink(target, filepath.Join(path(ve), name)))
}
func (h *LocalHandler) Truncate(ve *avfscore.VEntry, size int64) error {
	if size < 0 {
		return avfscore.ErrInvalidArgument
	}
	return translateStatErr(os.Truncate(path(ve), size))
}

func (h *LocalHandler) GetPath(ve *avfscore.VEntry) (string, error) { return path(ve), nil }
func (h *LocalHandler) Close() error                                { return nil }

// localFile wraps *os.File as an avfscore.VFile.
type localFile struct {
	f *os.File
}

func (l *localFile) Pread(p []byte, offset int64) (int, error) {
	n, err := l.f.ReadAt(p, offset)
	if err == io.EOF {
		return n, io.EOF
	}
	return n, translateStatErr(err)
}

func (l *localFile) Pwrite(p []byte, offset int64) (int, error) {
	n, err := l.f.WriteAt(p, offset)
	return n, translateStatErr(err)
}

func (l *localFile) GetAttr() (avfscore.Stat, error) {
	fi, err := l.f.Stat()
	if err != nil {
		return avfscore.Stat{}, translateStatErr(err)
	}
	return statFromFileInfo(fi), nil
}

func (l *localFile) ReadDir() ([]avfscore.DirEntry, error) {
	infos, err := l.f.ReadDir(-1)
	if err != nil {
		return nil, translateStatErr(err)
	}
	out := make([]avfscore.DirEntry, 0, len(infos))
	for _, e := range infos {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, avfscore.DirEntry{Name: e.Name(), Type: fileTypeOf(info.Mode())})
	}
	return out, nil
}

func (l *localFile) Close() error { return l.f.Close() }

func toOSFlags(flags avfscore.OpenFlag) int {
	var f int
	switch flags.AccessMode() {
	case avfscore.OWronly:
		f = os.O_WRONLY
	case avfscore.ORdwr:
		f = os.O_RDWR
	default:
		f = os.O_RDONLY
	}
	if flags&avfscore.OCreat != 0 {
		f |= os.O_CREATE
	}
	if flags&avfscore.OExcl != 0 {
		f |= os.O_EXCL
	}
	if flags&avfscore.OTrunc != 0 {
		f |= os.O_TRUNC
	}
	if flags&avfscore.OAppend != 0 {
		f |= os.O_APPEND
	}
	return f
}

func fileTypeOf(mode os.FileMode) avfscore.FileType {
	switch {
	case mode.IsDir():
		return avfscore.TypeDirectory
	case mode&os.ModeSymlink != 0:
		return avfscore.TypeSymlink
	case mode.IsRegular():
		return avfscore.TypeRegular
	default:
		return avfscore.TypeUnknown
	}
}

func statFromFileInfo(fi os.FileInfo) avfscore.Stat {
	return avfscore.Stat{
		Mode:    uint32(fi.Mode().Perm()),
		Type:    fileTypeOf(fi.Mode()),
		Size:    fi.Size(),
		Blksize: 4096,
		Blocks:  (fi.Size() + 511) / 512,
		Mtime:   fi.ModTime(),
		Ctime:   fi.ModTime(),
		Atime:   fi.ModTime(),
	}
}

func translateStatErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case os.IsNotExist(err):
		return avfscore.ErrNotFound
	case os.IsExist(err):
		return avfscore.ErrExists
	case os.IsPermission(err):
		return avfscore.ErrPermission
	case err == io.EOF:
		return io.EOF
	default:
		return avfscore.NewError("local", "", avfscore.ErrIO, err)
	}
}
