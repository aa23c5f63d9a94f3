// Package webdav exposes the afero.Fs adapter over internal/posix as a
// WebDAV server, the zero-kernel-dependency way SPEC_FULL.md §6-NEW
// exercises the full dispatch/resolver stack end to end without an actual
// FUSE mount. Grounded on the teacher's internal/webdav package, trimmed
// of the JWT/database/propfind machinery that belonged to altmount's own
// multi-user web app rather than the filesystem itself.
package webdav

import (
	"context"
	"os"

	"github.com/spf13/afero"
	"golang.org/x/net/webdav"
)

// fileSystem adapts an afero.Fs to golang.org/x/net/webdav.FileSystem, the
// same "wrap the Fs interface" shape as the teacher's nzbToWebdavFS.
type fileSystem struct {
	fs afero.Fs
}

func aferoToWebdavFS(fs afero.Fs) webdav.FileSystem {
	return &fileSystem{fs: fs}
}

func (f *fileSystem) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return f.fs.Mkdir(name, perm)
}

func (f *fileSystem) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	return f.fs.OpenFile(name, flag, perm)
}

func (f *fileSystem) RemoveAll(ctx context.Context, name string) error {
	return f.fs.RemoveAll(name)
}

func (f *fileSystem) Rename(ctx context.Context, oldName, newName string) error {
	return f.fs.Rename(oldName, newName)
}

func (f *fileSystem) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	return f.fs.Stat(name)
}
