package zipfmt

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/layerfs/avfs/internal/archive"
	"github.com/layerfs/avfs/internal/avfscore"
)

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func makeZip(t *testing.T, stored map[string]string, deflated map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for name, content := range stored {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range deflated {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func readMember(t *testing.T, a *archive.Archive, p *Parser, base io.ReaderAt, name string, want string) {
	t.Helper()
	entry := a.Namespace().Resolve(name)
	if entry == nil {
		t.Fatalf("entry %q not found", name)
	}
	node, ok := entry.Data().(*archive.Node)
	if !ok {
		t.Fatalf("entry %q has no archive node", name)
	}
	buf := make([]byte, len(want))
	n, err := p.Read(a, node, base, buf, 0)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if string(buf[:n]) != want {
		t.Fatalf("content = %q, want %q", buf[:n], want)
	}
}

func TestParseStoredAndDeflated(t *testing.T) {
	data := makeZip(t,
		map[string]string{"stored.txt": "raw bytes, no compression"},
		map[string]string{"deflated.txt": "this one gets deflate compressed, repeated repeated repeated"},
	)
	base := byteReaderAt(data)

	a := archive.NewArchive(false, avfscore.Signature{}, "uzip", "/a.zip", nil)
	p := New()
	if err := p.Parse(a, base, int64(len(data)), "/a.zip"); err != nil {
		t.Fatal(err)
	}

	readMember(t, a, p, base, "stored.txt", "raw bytes, no compression")
	readMember(t, a, p, base, "deflated.txt", "this one gets deflate compressed, repeated repeated repeated")
}

func TestParseDirectoryEntries(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create("dir/"); err != nil {
		t.Fatal(err)
	}
	w, err := zw.Create("dir/file.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	base := byteReaderAt(data)

	a := archive.NewArchive(false, avfscore.Signature{}, "uzip", "/a.zip", nil)
	p := New()
	if err := p.Parse(a, base, int64(len(data)), "/a.zip"); err != nil {
		t.Fatal(err)
	}

	entry := a.Namespace().Resolve("dir")
	node, ok := entry.Data().(*archive.Node)
	if !ok || node.Stat.Type != avfscore.TypeDirectory {
		t.Fatal("dir/ entry should resolve to a directory node")
	}
}
