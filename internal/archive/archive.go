// Package archive implements the archive skeleton of SPEC_FULL.md §4.8:
// format-agnostic parsing/caching/dispatch machinery shared by every
// archive format handler (tarfmt, zipfmt, rarfmt, sevenzipfmt, extfs), each
// of which supplies only a Parser.
//
// The open/readdir/getattr dispatch shape is grounded on the teacher's
// nzbfilesystem.StreamedVirtualFile (internal/nzbfilesystem/types.go):
// a small struct wrapping a read source plus cursor state, exposing
// Stat-like metadata directly rather than through a separate inode table.
package archive

import (
	"fmt"
	"io"
	"sync"

	"github.com/layerfs/avfs/internal/avfscore"
	"github.com/layerfs/avfs/internal/avns"
	"github.com/layerfs/avfs/internal/codec"
	"github.com/layerfs/avfs/internal/objref"
)

// NodeFlag carries the archnode flag bits of spec §3.
type NodeFlag int

const (
	FlagDirty NodeFlag = 1 << iota
	FlagCreated
	FlagAutoDir
)

// Node is the archnode attached as user data on every archive namespace
// entry: full stat, symlink target, flags, physical location in the base
// file, and handler-specific extra data (e.g. a zip method id, a rar
// header).
type Node struct {
	Stat       avfscore.Stat
	LinkTarget string
	Flags      NodeFlag
	Offset     int64 // physical offset of this entry's data in the base file
	RealSize   int64 // compressed ("real") size in the base file
	Extra      any

	indexMu sync.Mutex
	index   *codec.Index // this entry's own checkpoint index, for per-entry-compressed formats (zip); nil until first random-access read
}

// Index returns this node's checkpoint index, creating it on first use.
// Each compressed member has its own independent logical stream, unlike a
// whole-archive-compressed base (tar.gz), which tarfmt decompresses into a
// spool file during Parse and never reads through an Index.
func (n *Node) Index() *codec.Index {
	n.indexMu.Lock()
	defer n.indexMu.Unlock()
	if n.index == nil {
		n.index = codec.NewIndex()
	}
	return n.index
}

// Archive is a parsed archive: its namespace, the base file's signature at
// parse time, and the name of the handler that parsed it. It is filecache's
// Payload: once parsed it is immutable, so concurrent readers need no lock
// beyond the namespace's own.
type Archive struct {
	box         *objref.Box
	ns          *avns.Namespace
	sig         avfscore.Signature
	handlerName string
	basePath    string

	extraMu sync.Mutex
	extra   any // format-private per-archive state, e.g. tarfmt's decompression spool
}

// NewArchive creates an empty archive ready for a Parser to populate.
// onDestroy, if non-nil, runs when the archive's last reference drops (a
// format whose Parse materialized a temp spool file registers its cleanup
// here instead of leaking it until process exit).
func NewArchive(nocase bool, sig avfscore.Signature, handlerName, basePath string, onDestroy func()) *Archive {
	a := &Archive{
		ns:          avns.New(nocase),
		sig:         sig,
		handlerName: handlerName,
		basePath:    basePath,
	}
	destroy := func() {}
	if onDestroy != nil {
		destroy = onDestroy
	}
	a.box = objref.New(destroy)
	return a
}

// SetExtra attaches format-private per-archive state (e.g. tarfmt's
// decompressed spool file), opaque to the skeleton itself.
func (a *Archive) SetExtra(v any) {
	a.extraMu.Lock()
	a.extra = v
	a.extraMu.Unlock()
}

// Extra returns whatever SetExtra last stored, or nil.
func (a *Archive) Extra() any {
	a.extraMu.Lock()
	defer a.extraMu.Unlock()
	return a.extra
}

// Box implements filecache.Payload.
func (a *Archive) Box() *objref.Box { return a.box }

// Namespace returns the archive's entry tree.
func (a *Archive) Namespace() *avns.Namespace { return a.ns }

// Signature returns the base file's (dev,ino,size,mtime) at parse time.
func (a *Archive) Signature() avfscore.Signature { return a.sig }

// NewNode allocates an archnode for entry, defaulting its stat from base
// (the containing archive file's own stat, for fields the format doesn't
// override: dev, uid/gid, timestamps), and attaches it.
func (a *Archive) NewNode(entry *avns.Entry, base avfscore.Stat) *Node {
	n := &Node{Stat: base}
	entry.SetData(n)
	return n
}

// DefaultDir is like NewNode but marks the entry FlagAutoDir: an
// intermediate directory implied by a deep entry's path but never itself
// listed in the archive.
func (a *Archive) DefaultDir(entry *avns.Entry, base avfscore.Stat) *Node {
	n := a.NewNode(entry, base)
	n.Stat.Type = avfscore.TypeDirectory
	n.Flags |= FlagAutoDir
	return n
}

// GetEntry walks (creating AUTODIR parents as needed) the namespace path,
// returning the final entry. dirStat seeds any AUTODIR parent's stat.
func (a *Archive) GetEntry(path string, dirStat avfscore.Stat) *avns.Entry {
	entry := a.ns.Resolve(path)
	walk := entry
	for walk != nil && walk.Data() == nil && walk != a.ns.Root() {
		a.DefaultDir(walk, dirStat)
		walk = walk.Parent()
	}
	if a.ns.Root().Data() == nil {
		a.DefaultDir(a.ns.Root(), dirStat)
	}
	return entry
}

// Parser is implemented by each archive format (tarfmt, zipfmt, rarfmt,
// sevenzipfmt, extfs): Parse walks base and populates a's namespace via
// NewNode/DefaultDir/GetEntry; Read serves the bytes of one member, either
// by a bounded pread (stored entries) or by driving the codec layer
// (compressed entries).
type Parser interface {
	// Parse walks base (the size-byte archive container opened at path,
	// the ventry's canonical generated path — needed by formats that shell
	// an external reader by name, like sevenzipfmt and extfs, rather than
	// working purely off an io.ReaderAt) and populates a's namespace.
	Parse(a *Archive, base io.ReaderAt, size int64, path string) error
	Read(a *Archive, node *Node, base io.ReaderAt, p []byte, offset int64) (int, error)
}

// File is the archfile of spec §3: a per-open handle referencing the base
// file, the parsed archive, and the specific node, plus a readdir cursor.
type File struct {
	avfscore.BaseVFile

	base    io.ReaderAt
	archive *Archive
	node    *Node
	entry   *avns.Entry
	parser  Parser

	mu         sync.Mutex
	dirCursor  int
	dirEntries []avfscore.DirEntry
	dirLoaded  bool
}

// NewFile opens a handle on entry/node within archive, backed by base and
// served by parser.
func NewFile(archive *Archive, entry *avns.Entry, node *Node, base io.ReaderAt, parser Parser) *File {
	archive.box.Ref()
	return &File{archive: archive, entry: entry, node: node, base: base, parser: parser}
}

// Pread serves up to len(p) bytes of this member's content at offset,
// delegating to the format parser.
func (f *File) Pread(p []byte, offset int64) (int, error) {
	if f.node.Stat.Type == avfscore.TypeDirectory {
		return 0, avfscore.ErrIsDir
	}
	if offset >= f.node.Stat.Size {
		return 0, io.EOF
	}
	if max := f.node.Stat.Size - offset; int64(len(p)) > max {
		p = p[:max]
	}
	n, err := f.parser.Read(f.archive, f.node, f.base, p, offset)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("archive: read: %w", err)
	}
	return n, err
}

// GetAttr returns the node's stat.
func (f *File) GetAttr() (avfscore.Stat, error) {
	return f.node.Stat, nil
}

// ReadDir walks the entry's children, emitting "." and ".." first, per
// spec §4.8.
func (f *File) ReadDir() ([]avfscore.DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirLoaded {
		return f.dirEntries, nil
	}
	if f.node.Stat.Type != avfscore.TypeDirectory {
		return nil, avfscore.ErrNotDir
	}

	out := []avfscore.DirEntry{
		{Name: ".", Ino: f.node.Stat.Ino, Type: avfscore.TypeDirectory},
	}
	if parent := f.entry.Parent(); parent != nil {
		if pn, ok := parent.Data().(*Node); ok {
			out = append(out, avfscore.DirEntry{Name: "..", Ino: pn.Stat.Ino, Type: avfscore.TypeDirectory})
		}
	} else {
		out = append(out, avfscore.DirEntry{Name: "..", Ino: f.node.Stat.Ino, Type: avfscore.TypeDirectory})
	}

	for _, child := range f.entry.Children() {
		n, ok := child.Data().(*Node)
		if !ok {
			continue
		}
		out = append(out, avfscore.DirEntry{Name: child.Name(), Ino: n.Stat.Ino, Type: n.Stat.Type})
	}

	f.dirEntries = out
	f.dirLoaded = true
	return out, nil
}

// Close drops the archive reference acquired by NewFile and releases the
// per-open base reader, if the layer that produced it is closeable.
func (f *File) Close() error {
	f.archive.box.Unref()
	if c, ok := f.base.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
