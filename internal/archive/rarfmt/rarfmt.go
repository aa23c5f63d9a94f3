// Package rarfmt implements the rar archive.Parser of SPEC_FULL.md §4.8,
// grounded on github.com/javi11/rardecode/v2 — the teacher's own rar
// dependency, used there (internal/importer/archive/rar/processor.go) for
// multi-volume, segment-level metadata extraction over Usenet-backed
// virtual files via rardecode.ListArchiveInfo. AVFS mounts a rar archive
// over a single already-resolved local io.ReaderAt rather than a set of
// remote volume segments, so rarfmt instead drives rardecode's sequential
// extraction API (OpenReader/Next/Read, the same shape archive/tar's
// Reader exposes) directly against the archive's own path, fully
// decompressing every member up front into per-archive temp spool files —
// the same "materialize once, random-access the spool forever after"
// strategy tarfmt uses for its compressed variants, necessary here because
// RAR's own compressed format exposes no seek points this engine could
// checkpoint against.
package rarfmt

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/javi11/rardecode/v2"

	"github.com/layerfs/avfs/internal/archive"
	"github.com/layerfs/avfs/internal/avfscore"
)

// Parser implements archive.Parser for rar containers.
type Parser struct {
	// TempDir is where each member's decompressed spool file is created.
	TempDir string
	// Password, if non-empty, unlocks a password-protected archive.
	Password string
}

// New creates a rar Parser spooling extracted members under tempDir.
func New(tempDir, password string) *Parser {
	return &Parser{TempDir: tempDir, Password: password}
}

// spool holds every member's decompressed spool file, keyed by the member's
// path within the archive; Archive.Extra holds it so the archive's destroy
// hook can remove them all. Parser.Read finds a member's file through
// Node.Extra instead. A single rar archive can have many members, unlike
// tarfmt's one spool covering the whole container.
type spool struct {
	files map[string]*os.File
}

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
	opts := []rardecode.Option{rardecode.SkipCheck}
	if p.Password != "" {
		opts = append(opts, rardecode.Password(p.Password))
	}

	rc, err := rardecode.OpenReader(vpath, opts...)
	if err != nil {
		return fmt.Errorf("rarfmt: open %q: %w", vpath, err)
	}
	defer rc.Close()

	sp := &spool{files: make(map[string]*os.File)}
	a.SetExtra(sp)

	baseStat := avfscore.Stat{Type: avfscore.TypeDirectory, Mode: 0o755, Nlink: 1}

	for {
		hdr, err := rc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			sp.Close()
			return fmt.Errorf("rarfmt: read header: %w", err)
		}

		name := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(hdr.Name, "\\", "/")), "/")
		if name == "" || name == "." {
			continue
		}

		entry := a.GetEntry(name, baseStat)
		node := a.NewNode(entry, baseStat)

		if hdr.IsDir {
			node.Stat = baseStat
			continue
		}

		f, err := os.CreateTemp(p.TempDir, "armember")
		if err != nil {
			sp.Close()
			return fmt.Errorf("rarfmt: spool %q: %w", name, err)
		}
		if _, err := io.Copy(f, rc); err != nil {
			f.Close()
			sp.Close()
			return fmt.Errorf("rarfmt: extract %q: %w", name, err)
		}

		node.Stat = statFromHeader(hdr)
		node.Extra = f
		sp.files[name] = f
	}

	return nil
}

func statFromHeader(hdr *rardecode.FileHeader) avfscore.Stat {
	mtime := hdr.ModificationTime
	if mtime.IsZero() {
		mtime = time.Unix(0, 0)
	}
	return avfscore.Stat{
		Type:  avfscore.TypeRegular,
		Mode:  0o644,
		Nlink: 1,
		Size:  hdr.UnPackedSize,
		Mtime: mtime,
		Ctime: mtime,
		Atime: mtime,
	}
}

// Read serves node's content from its decompressed spool file, stashed on
// Node.Extra at Parse time.
func (p *Parser) Read(a *archive.Archive, node *archive.Node, base io.ReaderAt, buf []byte, offset int64) (int, error) {
	f, ok := node.Extra.(*os.File)
	if !ok {
		return 0, avfscore.ErrNotFound
	}
	return f.ReadAt(buf, offset)
}
