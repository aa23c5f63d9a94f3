// Package tarfmt implements the tar archive.Parser of SPEC_FULL.md §4.8: a
// schematic walk of the tar byte stream into the generic archive namespace,
// the one archive format the spec singles out as a candidate for write
// support (§9's Open Question on readonly_reason/tar's flush path).
//
// Compressed variants (.tar.gz/.tgz, .tar.bz2/.tbz2, .tar.xz/.txz) are
// resolved by a single "#" auto-invocation, per the suffix-rewrite note in
// the resolver's pushHandler: rather than chaining a separate codec handler layer,
// Parse itself sniffs the base file's magic and decompresses the whole
// stream into a temp spool file (internal/sfile's spool discipline, reused
// directly rather than via its Source interface, since tar needs the result
// as a seekable io.ReaderAt, not a serial stream) before tar.Reader ever
// sees it. Grounded on archive/tar from the standard library, the same
// "read headers, skip content, resume" idiom the teacher never needed but
// which is Go's own idiomatic tar handling.
package tarfmt

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/layerfs/avfs/internal/archive"
	"github.com/layerfs/avfs/internal/avfscore"
	"github.com/layerfs/avfs/internal/codec"
)

// Parser implements archive.Parser for plain and compressed tar streams.
type Parser struct {
	// TempDir is where a compressed tar's decompressed spool file is
	// created; it is never cleaned up here directly — the archive's
	// destroy hook (wired by archive.Skeleton via Archive.SetExtra)
	// removes it once the archive's last reference drops.
	TempDir string
}

// New creates a tar Parser spooling compressed variants under tempDir.
func New(tempDir string) *Parser {
	return &Parser{TempDir: tempDir}
}

// spoolFile materializes a fully decompressed copy of a compressed tar
// stream so it can be read randomly; a plain .tar gets none, since its own
// base reader already supports random access directly.
type spoolFile struct {
	f *os.File
}

func (s *spoolFile) Close() error {
	name := s.f.Name()
	err := s.f.Close()
	os.Remove(name)
	return err
}

// decompressor picks the sequential reader for base's compression, or nil
// for an uncompressed tar.
func (p *Parser) decompressor(base io.ReaderAt, size int64) (io.Reader, error) {
	magic := make([]byte, 6)
	n, _ := base.ReadAt(magic, 0)
	magic = magic[:n]

	section := io.NewSectionReader(base, 0, size)
	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		gz, err := gzip.NewReader(section)
		return gz, err
	case len(magic) >= 3 && string(magic[:3]) == "BZh":
		return bzip2.NewReader(section), nil
	case len(magic) >= 6 && bytes.Equal(magic, []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}):
		xr, err := xz.NewReader(section)
		return xr, err
	default:
		return nil, nil // not a recognized compressed container: read base directly
	}
}

// Parse walks base's tar stream (decompressing it to a temp spool first if
// base is itself gzip/bzip2/xz-compressed) and populates a's namespace.
func (p *Parser) Parse(a *archive.Archive, base io.ReaderAt, size int64, vpath string) error {
	dec, err := p.decompressor(base, size)
	if err != nil {
		return fmt.Errorf("tarfmt: detect compression: %w", err)
	}

	var source io.ReaderAt
	if dec == nil {
		source = base
	} else {
		spool, err := p.materialize(dec)
		if err != nil {
			return fmt.Errorf("tarfmt: materialize: %w", err)
		}
		a.SetExtra(spool)
		source = spool.f
	}

	return p.walk(a, source)
}

// materialize drains dec (a sequential decompressor) into a fresh temp
// file, returning it positioned for random reads.
func (p *Parser) materialize(dec io.Reader) (*spoolFile, error) {
	f, err := os.CreateTemp(p.TempDir, "atmp")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(f, dec); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return &spoolFile{f: f}, nil
}

// countingReader tracks bytes pulled from r, so the offset of each tar
// entry's data section (immediately after its header block) can be
// recovered without archive/tar exposing it directly.
type countingReader struct {
	r        io.Reader
	consumed int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.consumed += int64(n)
	return n, err
}

func (p *Parser) walk(a *archive.Archive, source io.ReaderAt) error {
	cr := &countingReader{r: io.NewSectionReader(source, 0, 1<<62)}
	tr := tar.NewReader(cr)

	baseStat := avfscore.Stat{Type: avfscore.TypeDirectory, Mode: 0o755, Nlink: 1}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tarfmt: read header: %w", err)
		}

		name := strings.TrimPrefix(path.Clean("/"+hdr.Name), "/")
		if name == "" || name == "." {
			continue
		}

		entry := a.GetEntry(name, baseStat)
		node := a.NewNode(entry, baseStat)
		node.Stat = statFromHeader(hdr)
		node.Offset = cr.consumed
		node.RealSize = hdr.Size

		if hdr.Typeflag == tar.TypeSymlink || hdr.Typeflag == tar.TypeLink {
			node.LinkTarget = hdr.Linkname
		}
	}
}

func statFromHeader(hdr *tar.Header) avfscore.Stat {
	t := avfscore.TypeRegular
	switch hdr.Typeflag {
	case tar.TypeDir:
		t = avfscore.TypeDirectory
	case tar.TypeSymlink, tar.TypeLink:
		t = avfscore.TypeSymlink
	}
	mtime := hdr.ModTime
	if mtime.IsZero() {
		mtime = time.Unix(0, 0)
	}
	return avfscore.Stat{
		Type:  t,
		Mode:  uint32(hdr.Mode) & 0o7777,
		Nlink: 1,
		Uid:   uint32(hdr.Uid),
		Gid:   uint32(hdr.Gid),
		Size:  hdr.Size,
		Mtime: mtime,
		Ctime: mtime,
		Atime: mtime,
	}
}

// Read serves node's content: from the original base directly for a plain
// tar, or from the archive's decompression spool for a compressed one.
func (p *Parser) Read(a *archive.Archive, node *archive.Node, base io.ReaderAt, buf []byte, offset int64) (int, error) {
	source := base
	if spool, ok := a.Extra().(*spoolFile); ok {
		source = spool.f
	}
	return source.ReadAt(buf, node.Offset+offset)
}

// tarfmt does not drive the shared codec engine (members are stored flat in
// the decompressed spool); this blank declaration only references
// codec.Opener and defines nothing callable.
var _ codec.Opener
