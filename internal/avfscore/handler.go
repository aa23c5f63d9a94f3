package avfscore

// DirEntry is one entry yielded by VFile.ReadDir.
type DirEntry struct {
	Name string
	Ino  uint64
	Type FileType
}

// VEntry is a resolved position inside one handler's namespace: the
// handler that owns it, the handler-private data attached by Lookup (an
// *avns.Entry for namespace-backed handlers, or something simpler for
// handlers with no tree), and the mount this ventry descended through (nil
// at the root of a chain). Ventries are cheap, short-lived values; nothing
// about resolution requires them to be reference-counted the way the
// original runtime counts every heap object, since Go's GC already owns
// that concern (SPEC_FULL.md §4.1's Go-mapping note).
type VEntry struct {
	Handler Handler
	Data    any
	Parent  *VEntry // the ventry one mount layer down, nil at the bottom
	Opts    string  // the handler-invocation options string, e.g. "(gzip)" from "#extfs(gzip)"

	// BasePath is the canonical generated path of the ventry one mount
	// layer down, computed once by the resolver when it pushes a new
	// mount layer (spec §4.9's generate_path) and handed to the handler's
	// Lookup as the key material for filecache/diskcache entries — a
	// handler has no other way to name "the file it was mounted on"
	// without re-deriving it itself.
	BasePath string
}

// VFile is a handler's open file handle.
type VFile interface {
	Pread(p []byte, offset int64) (int, error)
	Pwrite(p []byte, offset int64) (int, error)
	GetAttr() (Stat, error)
	ReadDir() ([]DirEntry, error)
	Close() error
}

// Handler is the per-format operation table of spec §6's "18 methods"; the
// lookup/open/getattr/readdir/getpath subset (read/lseek/close live on VFile)
// is mandatory; BaseHandler supplies defaults for the rest.
type Handler interface {
	Name() string
	// Extensions lists the suffixes this handler auto-registers for ("#"
	// with no name, per spec §4.9 step 2), empty for handlers only invoked
	// by explicit name.
	Extensions() []string

	Lookup(ve *VEntry, name string) (*VEntry, error)
	Open(ve *VEntry, flags OpenFlag) (VFile, error)
	GetAttr(ve *VEntry) (Stat, error)
	ReadDir(ve *VEntry) ([]DirEntry, error)

	ReadLink(ve *VEntry) (string, error)
	Access(ve *VEntry, flags OpenFlag) error
	Unlink(ve *VEntry) error
	Rmdir(ve *VEntry) error
	Truncate(ve *VEntry, size int64) error

	// Mkdir/Mknod/Symlink create a new name under the directory ve
	// resolves to: unlike the other operations, their target does not
	// exist yet, so the resolver hands them a parent ventry plus the
	// final path component instead of a resolved-but-nonexistent one.
	Mkdir(ve *VEntry, name string, mode uint32) error
	Mknod(ve *VEntry, name string, mode uint32) error
	Symlink(target string, ve *VEntry, name string) error

	// Rename/Link move or link oldVE to name newName under newParentVE,
	// the same parent-plus-name shape as Mkdir/Mknod/Symlink for the
	// destination side.
	Rename(oldVE, newParentVE *VEntry, newName string) error
	Link(oldVE, newParentVE *VEntry, newName string) error

	// GetPath renders ve.Data back into the handler-private path segment
	// used by generate_path (spec §4.9).
	GetPath(ve *VEntry) (string, error)

	// NoLock reports whether dispatch should skip the per-handler coarse
	// lock for this handler (spec §5's NOLOCK), e.g. for handlers whose own
	// component locks already provide equivalent serialization.
	NoLock() bool

	// Close runs the handler's destructor at process teardown.
	Close() error
}

// BaseHandler supplies defaults for the optional methods, so concrete
// handlers only implement what they actually support: every mutating method
// returns ErrReadOnly, ReadLink returns ErrInvalidArgument, and Access
// allows everything.
type BaseHandler struct{}

func (BaseHandler) ReadLink(ve *VEntry) (string, error)     { return "", ErrInvalidArgument }
func (BaseHandler) Access(ve *VEntry, flags OpenFlag) error { return nil }
func (BaseHandler) Unlink(ve *VEntry) error                 { return ErrReadOnly }
func (BaseHandler) Rmdir(ve *VEntry) error                  { return ErrReadOnly }
func (BaseHandler) Truncate(ve *VEntry, size int64) error   { return ErrReadOnly }

func (BaseHandler) Mkdir(ve *VEntry, name string, mode uint32) error     { return ErrReadOnly }
func (BaseHandler) Mknod(ve *VEntry, name string, mode uint32) error     { return ErrReadOnly }
func (BaseHandler) Symlink(target string, ve *VEntry, name string) error { return ErrReadOnly }
func (BaseHandler) Rename(oldVE, newParentVE *VEntry, newName string) error { return ErrReadOnly }
func (BaseHandler) Link(oldVE, newParentVE *VEntry, newName string) error   { return ErrReadOnly }

func (BaseHandler) NoLock() bool { return false }
func (BaseHandler) Close() error { return nil }

// BaseVFile supplies defaults for VFile methods a handler's file type
// doesn't support: Pwrite returns ErrReadOnly (e.g. on a read-only archive
// entry) and ReadDir returns ErrNotDir.
type BaseVFile struct{}

func (BaseVFile) Pwrite(p []byte, offset int64) (int, error) { return 0, ErrReadOnly }
func (BaseVFile) ReadDir() ([]DirEntry, error)               { return nil, ErrNotDir }
