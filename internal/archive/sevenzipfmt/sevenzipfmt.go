// Package sevenzipfmt implements the 7z archive.Parser of SPEC_FULL.md
// §4.8. It layers two strategies, both grounded in the pack:
//
//   - A fast path over the teacher's own hand-rolled internal/sevenzip
//     parser, which understands only uncompressed (store-method) 7z
//     archives but needs nothing beyond an io.ReaderAt — no afero
//     filesystem, no temp files. This mirrors exactly how the teacher uses
//     it (internal/importer/archive/sevenzip's "StreamFileByExtension"
//     style direct-offset reads), just generalized from "find one file by
//     extension" to "list every file and keep its offset".
//   - A full path over github.com/javi11/sevenzip (the teacher's actual
//     go.mod dependency for 7z, used in
//     internal/importer/archive/sevenzip/processor.go via
//     sevenzip.OpenReader(path, afero.Fs) and
//     (*ReadCloser).ListFilesWithOffsets), for archives the fast path
//     can't handle: password-protected or genuinely LZMA/LZMA2-compressed.
//     Compressed members are spooled to a temp file once, the same
//     materialize-then-random-access strategy rarfmt uses, since
//     javi11/sevenzip's own Open() is a forward-only io.ReadCloser.
package sevenzipfmt

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/javi11/sevenzip"
	"github.com/spf13/afero"

	"github.com/layerfs/avfs/internal/archive"
	"github.com/layerfs/avfs/internal/avfscore"
	tsevenzip "github.com/layerfs/avfs/internal/sevenzip"
)

// Parser implements archive.Parser for 7z containers.
type Parser struct {
	TempDir  string
	Password string
	fs       afero.Fs
}

// New creates a 7z Parser spooling extracted compressed members under
// tempDir; fs is the afero filesystem javi11/sevenzip opens path through
// when the fast (store-only) path can't handle the archive.
func New(tempDir, password string, fs afero.Fs) *Parser {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Parser{TempDir: tempDir, Password: password, fs: fs}
}

type spool struct{ files []*os.File }

func (s *spool) Close() error {
	var err error
	for _, f := range s.files {
		name := f.Name()
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		os.Remove(name)
	}
	return err
}

func (p *Parser) Parse(a *archive.Archive, base io.ReaderAt, size int64, vpath string) error {
	if info, err := tsevenzip.IsStreamable(base, size); err == nil {
		return p.parseStreamable(a, info)
	}
	return p.parseFull(a, vpath)
}

func (p *Parser) parseStreamable(a *archive.Archive, info *tsevenzip.ArchiveInfo) error {
	baseStat := avfscore.Stat{Type: avfscore.TypeDirectory, Mode: 0o755, Nlink: 1}

	for _, fe := range info.Files {
		name := cleanName(fe.Name)
		if name == "" {
			continue
		}
		entry := a.GetEntry(name, baseStat)
		node := a.NewNode(entry, baseStat)
		node.Stat = avfscore.Stat{
			Type: avfscore.TypeRegular, Mode: 0o644, Nlink: 1,
			Size: int64(fe.Size), Mtime: fe.Modified, Ctime: fe.Modified, Atime: fe.Modified,
		}
		node.Offset = int64(fe.Offset)
		node.RealSize = int64(fe.Size)
	}
	return nil
}

func (p *Parser) parseFull(a *archive.Archive, vpath string) error {
	var rc *sevenzip.ReadCloser
	var err error
	if p.Password != "" {
		rc, err = sevenzip.OpenReaderWithPassword(vpath, p.Password, p.fs)
	} else {
		rc, err = sevenzip.OpenReader(vpath, p.fs)
	}
	if err != nil {
		return fmt.Errorf("sevenzipfmt: open %q: %w", vpath, err)
	}
	defer rc.Close()

	sp := &spool{}
	a.SetExtra(sp)

	baseStat := avfscore.Stat{Type: avfscore.TypeDirectory, Mode: 0o755, Nlink: 1}

	for _, f := range rc.File {
		isDir := strings.HasSuffix(f.Name, "/")
		name := cleanName(f.Name)
		if name == "" {
			continue
		}

		entry := a.GetEntry(name, baseStat)
		node := a.NewNode(entry, baseStat)

		if isDir {
			node.Stat = baseStat
			continue
		}

		mtime := f.Modified
		node.Stat = avfscore.Stat{
			Type: avfscore.TypeRegular, Mode: 0o644, Nlink: 1,
			Size: int64(f.UncompressedSize), Mtime: mtime, Ctime: mtime, Atime: mtime,
		}

		spoolFile, err := extractMember(p.TempDir, f)
		if err != nil {
			sp.Close()
			return fmt.Errorf("sevenzipfmt: extract %q: %w", name, err)
		}
		sp.files = append(sp.files, spoolFile)
		node.Extra = spoolFile
	}

	return nil
}

func extractMember(tempDir string, f *sevenzip.File) (*os.File, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	out, err := os.CreateTemp(tempDir, "sztmp")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(out.Name())
		return nil, err
	}
	return out, nil
}

func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

// Read serves node's content: a bounded pread at the captured offset for
// the streamable fast path, or the spooled temp file for the full path.
func (p *Parser) Read(a *archive.Archive, node *archive.Node, base io.ReaderAt, buf []byte, offset int64) (int, error) {
	if f, ok := node.Extra.(*os.File); ok {
		return f.ReadAt(buf, offset)
	}
	return base.ReadAt(buf, node.Offset+offset)
}
