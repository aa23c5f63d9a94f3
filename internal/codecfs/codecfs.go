// Package codecfs wires the codec engine (internal/codec) up as a flat,
// single-entry avfscore.Handler: the pure-decompression formats named in
// SPEC_FULL.md §6's well-known handler list (ugz, ubz2, uxze, uzstde, plus
// the brotli enrichment) that present one compressed base file as one
// decompressed file, with no archive structure of their own.
//
// Composite containers (.tar.gz, .zip, .7z, .rar) are handled entirely
// inside archive/tarfmt, archive/zipfmt, archive/sevenzipfmt, and
// archive/rarfmt instead of by chaining a codecfs handler into an archive
// handler: following the resolver's note in pushHandler that rewritten-suffix
// chaining is the handler's own Lookup concern, the archive format itself
// recognizes a compressed variant of its extension and
// decompress internally, so a single "#" auto-invocation resolves the whole
// chain in one step, matching the worked example in spec §8 scenario 3.
package codecfs

import (
	"fmt"
	"io"

	"github.com/layerfs/avfs/internal/archive"
	"github.com/layerfs/avfs/internal/avfscore"
	"github.com/layerfs/avfs/internal/codec"
	"github.com/layerfs/avfs/internal/diskcache"
	"github.com/layerfs/avfs/internal/filecache"
	"github.com/layerfs/avfs/internal/objref"
)

// HeaderFunc locates the compressed data's start offset within base,
// returning 0 for formats with no separable container header worth
// skipping up front (bzip2, xz, lzip, zstd, brotli all parse their own
// headers lazily inside the Decoder itself).
type HeaderFunc func(base io.ReaderAt, size int64) (int64, error)

// ZeroHeader is the HeaderFunc for formats needing no upfront header scan.
func ZeroHeader(io.ReaderAt, int64) (int64, error) { return 0, nil }

// Wrap adapts a format package's concretely-typed Open function (gzipcodec.
// Open, bzip2codec.Open, and so on each return their own *decoder type, not
// codec.Decoder directly) into a codec.Opener, since Go's named function
// types require an exact return-type match rather than structural
// assignability.
func Wrap[D codec.Decoder](open func(io.ReaderAt, int64) (D, error)) codec.Opener {
	return func(base io.ReaderAt, dataOffset int64) (codec.Decoder, error) {
		return open(base, dataOffset)
	}
}

// Handler is a single-file decompression avfs handler: its namespace has
// exactly one entry, the decompressed stream, reachable via Lookup(ve, "").
type Handler struct {
	avfscore.BaseHandler

	name       string
	extensions []string
	header     HeaderFunc
	open       codec.Opener
	cache      *filecache.Cache
	disk       *diskcache.Manager
}

// New builds a codecfs.Handler. name is the registered handler name (e.g.
// "ugz"); extensions is the auto-match suffix list (e.g. [".gz", ".tgz"]
// would be wrong here — composite suffixes belong to the owning archive
// format, not the bare codec; codecfs handlers register only their own
// format's plain suffix, e.g. [".gz"]).
func New(name string, extensions []string, header HeaderFunc, open codec.Opener, cache *filecache.Cache, disk *diskcache.Manager) *Handler {
	return &Handler{name: name, extensions: extensions, header: header, open: open, cache: cache, disk: disk}
}

func (h *Handler) Name() string         { return h.name }
func (h *Handler) Extensions() []string { return h.extensions }
func (h *Handler) NoLock() bool         { return false }
func (h *Handler) Close() error         { return nil }

// payload is the filecache.Payload cached per base file: the Index
// (zcache) plus the base file's signature at cache time.
type payload struct {
	box *objref.Box
	idx *codec.Index
	sig avfscore.Signature
}

func (p *payload) Box() *objref.Box { return p.box }

// data is what Lookup attaches to VEntry.Data.
type data struct {
	base io.ReaderAt
	size int64 // base (compressed) size, for re-deriving the key's signature
	p    *payload
	name string // decompressed file's display name, for GetPath
}

func (h *Handler) Lookup(ve *avfscore.VEntry, name string) (*avfscore.VEntry, error) {
	if name != "" && name != "." {
		return nil, avfscore.ErrNotFound
	}

	base, st, err := archive.OpenVEntry(ve)
	if err != nil {
		return nil, fmt.Errorf("codecfs: open base: %w", err)
	}

	sig := avfscore.Signature{Dev: st.Dev, Ino: st.Ino, Size: st.Size, Mtime: st.Mtime}
	key := filecache.Key(ve.BasePath, h.name)

	pl, err := h.cache.GetOrLoad(key, func() (filecache.Payload, error) {
		p := &payload{box: objref.New(func() {}), idx: codec.NewIndex(), sig: sig}
		h.disk.New(p.box, key, 0)
		return p, nil
	})
	if err != nil {
		if c, ok := base.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}
	// GetOrLoad's ref only needs to guarantee the payload survives long
	// enough to copy into data; the cache's own ref (held by Set until
	// eviction/reparse) keeps it alive for the returned VEntry's lifetime.
	defer pl.Box().Unref()

	p := pl.(*payload)
	if !p.sig.Matches(sig) {
		h.cache.Delete(key)
		if c, ok := base.(io.Closer); ok {
			c.Close()
		}
		return h.Lookup(ve, name)
	}

	return &avfscore.VEntry{
		Handler:  h,
		Data:     &data{base: base, size: st.Size, p: p, name: decompressedName(ve.BasePath)},
		BasePath: ve.BasePath,
	}, nil
}

func decompressedName(basePath string) string {
	for i := len(basePath) - 1; i >= 0; i-- {
		if basePath[i] == '/' {
			return basePath[i+1:]
		}
	}
	return basePath
}

func (h *Handler) getData(ve *avfscore.VEntry) (*data, error) {
	d, ok := ve.Data.(*data)
	if !ok {
		return nil, avfscore.ErrInvalidArgument
	}
	return d, nil
}

// File is the open single-entry handle: a codec.Stream plus the header
// offset computed once at Open.
type File struct {
	avfscore.BaseVFile

	stream *codec.Stream
	base   io.ReaderAt
	name   string
	size   func() (int64, bool)
}

func (h *Handler) Open(ve *avfscore.VEntry, flags avfscore.OpenFlag) (avfscore.VFile, error) {
	if flags.AllowsWrite() {
		return nil, avfscore.ErrReadOnly
	}
	d, err := h.getData(ve)
	if err != nil {
		return nil, err
	}

	dataOffset, err := h.header(d.base, d.size)
	if err != nil {
		return nil, fmt.Errorf("codecfs: parse header: %w", err)
	}

	stream, err := codec.NewStream(d.base, dataOffset, h.open, d.p.idx)
	if err != nil {
		return nil, fmt.Errorf("codecfs: open decoder: %w", err)
	}

	return &File{stream: stream, base: d.base, name: d.name, size: d.p.idx.Size}, nil
}

func (f *File) Pread(p []byte, offset int64) (int, error) {
	return f.stream.Pread(p, offset)
}

// GetAttr forces full traversal the first time size is unknown, caching the
// discovered decoded length in the shared Index thereafter — the same
// "stat forces one decode" tradeoff sfile.Size makes for the filter codec.
func (f *File) GetAttr() (avfscore.Stat, error) {
	if n, ok := f.size(); ok {
		return avfscore.Stat{Type: avfscore.TypeRegular, Mode: 0o444, Nlink: 1, Size: n}, nil
	}

	discard := make([]byte, 256*1024)
	var off int64
	for {
		n, err := f.stream.Pread(discard, off)
		off += int64(n)
		if err == io.EOF {
			break
		}
		if err != nil {
			return avfscore.Stat{}, fmt.Errorf("codecfs: size probe: %w", err)
		}
	}
	n, _ := f.size()
	return avfscore.Stat{Type: avfscore.TypeRegular, Mode: 0o444, Nlink: 1, Size: n}, nil
}

func (f *File) Close() error {
	err := f.stream.Close()
	if c, ok := f.base.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (h *Handler) GetAttr(ve *avfscore.VEntry) (avfscore.Stat, error) {
	f, err := h.Open(ve, avfscore.ORdonly)
	if err != nil {
		return avfscore.Stat{}, err
	}
	defer f.Close()
	return f.GetAttr()
}

func (h *Handler) ReadDir(ve *avfscore.VEntry) ([]avfscore.DirEntry, error) {
	return nil, avfscore.ErrNotDir
}

func (h *Handler) GetPath(ve *avfscore.VEntry) (string, error) {
	d, err := h.getData(ve)
	if err != nil {
		return "", err
	}
	return d.name, nil
}

