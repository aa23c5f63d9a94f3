package archive

import (
	"fmt"
	"io"

	"github.com/layerfs/avfs/internal/avfscore"
	"github.com/layerfs/avfs/internal/avns"
	"github.com/layerfs/avfs/internal/diskcache"
	"github.com/layerfs/avfs/internal/filecache"
)

// BaseOpener opens the already-resolved base ventry (the file the "#"
// invoked this handler on) for reading, returning a random-access reader
// plus its current stat signature. The resolver supplies this; archive
// itself has no dependency on path resolution.
type BaseOpener func(ve *avfscore.VEntry) (io.ReaderAt, avfscore.Stat, error)

// Skeleton is the format-agnostic avfscore.Handler built from a Parser: the
// filecache-backed parse/reuse/reparse-on-change logic of spec §4.8, shared
// by every archive format.
type Skeleton struct {
	avfscore.BaseHandler

	name       string
	extensions []string
	parser     Parser
	openBase   BaseOpener
	cache      *filecache.Cache
	disk       *diskcache.Manager
}

// NewSkeleton wires a Parser into a full avfscore.Handler.
func NewSkeleton(name string, extensions []string, parser Parser, openBase BaseOpener, cache *filecache.Cache, disk *diskcache.Manager) *Skeleton {
	return &Skeleton{
		name:       name,
		extensions: extensions,
		parser:     parser,
		openBase:   openBase,
		cache:      cache,
		disk:       disk,
	}
}

func (s *Skeleton) Name() string           { return s.name }
func (s *Skeleton) Extensions() []string   { return s.extensions }
func (s *Skeleton) NoLock() bool           { return false }

// resolve parses (or reuses a cached parse of) the archive backing ve,
// returning it along with the live base reader used to serve reads.
func (s *Skeleton) resolve(ve *avfscore.VEntry) (*Archive, io.ReaderAt, error) {
	base, stat, err := s.openBase(ve)
	if err != nil {
		return nil, nil, fmt.Errorf("archive: open base: %w", err)
	}

	sig := avfscore.Signature{Dev: stat.Dev, Ino: stat.Ino, Size: stat.Size, Mtime: stat.Mtime}
	key := filecache.Key(pathOf(ve), s.name)

	payload, err := s.cache.GetOrLoad(key, func() (filecache.Payload, error) {
		var a *Archive
		a = NewArchive(false, sig, s.name, pathOf(ve), func() {
			if c, ok := a.Extra().(io.Closer); ok {
				c.Close()
			}
		})
		if err := s.parser.Parse(a, base, stat.Size, pathOf(ve)); err != nil {
			return nil, fmt.Errorf("archive: parse: %w", err)
		}
		s.disk.New(a.Box(), key, stat.Size)
		return a, nil
	})
	if err != nil {
		return nil, nil, err
	}

	a := payload.(*Archive)
	if !a.Signature().Matches(sig) {
		// Stale: the base file changed since it was parsed. Reparse and
		// replace, per spec §3's archive invariant.
		s.cache.Delete(key)
		return s.resolve(ve)
	}
	return a, base, nil
}

// pathOf renders a ventry to the canonical path filecache keys on: the
// resolver fills BasePath with generate_path(base) before invoking this
// handler's Lookup, per spec §4.9.
func pathOf(ve *avfscore.VEntry) string {
	return ve.BasePath
}

// Lookup walks name (or, if name == "", returns the archive root) within
// the parsed archive's namespace.
func (s *Skeleton) Lookup(ve *avfscore.VEntry, name string) (*avfscore.VEntry, error) {
	a, base, err := s.resolve(ve)
	if err != nil {
		return nil, err
	}
	// resolve()'s ref only needs to guarantee a survives long enough for
	// this function to copy what it needs into lookupResult; the cache's
	// own ref (held by Set until eviction/reparse) keeps it alive for the
	// returned VEntry's lifetime from here.
	defer a.Box().Unref()

	var entry *avns.Entry
	if name == "" {
		entry = a.Namespace().Root()
	} else {
		found, ok := a.Namespace().Find(a.Namespace().Root(), name)
		if !ok {
			return nil, avfscore.ErrNotFound
		}
		entry = found
	}
	if entry.Data() == nil {
		return nil, avfscore.ErrNotFound
	}

	return &avfscore.VEntry{
		Handler:  s,
		Data:     &lookupResult{archive: a, base: base, entry: entry},
		BasePath: ve.BasePath,
	}, nil
}

// lookupResult is what Lookup attaches to VEntry.Data: everything Open and
// GetAttr need without re-parsing.
type lookupResult struct {
	archive *Archive
	base    io.ReaderAt
	entry   *avns.Entry
}

func (s *Skeleton) data(ve *avfscore.VEntry) (*lookupResult, error) {
	lr, ok := ve.Data.(*lookupResult)
	if !ok {
		return nil, avfscore.ErrInvalidArgument
	}
	return lr, nil
}

// Open returns a fresh archive.File for the resolved entry.
func (s *Skeleton) Open(ve *avfscore.VEntry, flags avfscore.OpenFlag) (avfscore.VFile, error) {
	if flags.AllowsWrite() {
		return nil, avfscore.ErrReadOnly
	}
	lr, err := s.data(ve)
	if err != nil {
		return nil, err
	}
	node, ok := lr.entry.Data().(*Node)
	if !ok {
		return nil, avfscore.ErrNotFound
	}
	return NewFile(lr.archive, lr.entry, node, lr.base, s.parser), nil
}

// GetAttr returns the resolved node's stat.
func (s *Skeleton) GetAttr(ve *avfscore.VEntry) (avfscore.Stat, error) {
	lr, err := s.data(ve)
	if err != nil {
		return avfscore.Stat{}, err
	}
	node, ok := lr.entry.Data().(*Node)
	if !ok {
		return avfscore.Stat{}, avfscore.ErrNotFound
	}
	return node.Stat, nil
}

// ReadDir opens a transient File to list the resolved directory entry's
// children.
func (s *Skeleton) ReadDir(ve *avfscore.VEntry) ([]avfscore.DirEntry, error) {
	f, err := s.Open(ve, avfscore.ORdonly)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.ReadDir()
}

// ReadLink returns the resolved node's symlink target.
func (s *Skeleton) ReadLink(ve *avfscore.VEntry) (string, error) {
	lr, err := s.data(ve)
	if err != nil {
		return "", err
	}
	node, ok := lr.entry.Data().(*Node)
	if !ok || node.Stat.Type != avfscore.TypeSymlink {
		return "", avfscore.ErrInvalidArgument
	}
	return node.LinkTarget, nil
}

// GetPath renders the resolved entry's path within the archive.
func (s *Skeleton) GetPath(ve *avfscore.VEntry) (string, error) {
	lr, err := s.data(ve)
	if err != nil {
		return "", err
	}
	return lr.archive.Namespace().GetPath(lr.entry), nil
}

func (s *Skeleton) Close() error { return nil }
