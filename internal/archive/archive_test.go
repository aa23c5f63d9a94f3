package archive

import (
	"bytes"
	"io"
	"testing"

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

type staticParser struct {
	content []byte
}

func (p *staticParser) Parse(a *Archive, base io.ReaderAt, size int64, path string) error {
	return nil
}

func (p *staticParser) Read(a *Archive, node *Node, base io.ReaderAt, buf []byte, offset int64) (int, error) {
	n := copy(buf, p.content[offset:])
	return n, nil
}

func TestGetEntryCreatesAutoDirParents(t *testing.T) {
	a := NewArchive(false, avfscore.Signature{}, "fake", "/a.fake", nil)
	dirStat := avfscore.Stat{Mode: 0o755}

	entry := a.GetEntry("deep/nested/member.txt", dirStat)
	a.NewNode(entry, avfscore.Stat{Type: avfscore.TypeRegular, Size: 3})

	deep := a.Namespace().Resolve("deep")
	if deep == nil {
		t.Fatal("deep/ was not auto-created")
	}
	deepNode, ok := deep.Data().(*Node)
	if !ok || deepNode.Flags&FlagAutoDir == 0 {
		t.Fatal("deep/ should be an auto-created directory node")
	}

	nested := a.Namespace().Resolve("deep/nested")
	nestedNode, ok := nested.Data().(*Node)
	if !ok || nestedNode.Stat.Type != avfscore.TypeDirectory {
		t.Fatal("deep/nested should be a directory")
	}

	if a.Namespace().Root().Data() == nil {
		t.Fatal("root should also get an auto-dir node")
	}
}

func TestGetEntryIsIdempotentForSiblingPaths(t *testing.T) {
	a := NewArchive(false, avfscore.Signature{}, "fake", "/a.fake", nil)
	dirStat := avfscore.Stat{Mode: 0o755}

	e1 := a.GetEntry("dir/one.txt", dirStat)
	a.NewNode(e1, avfscore.Stat{Type: avfscore.TypeRegular})
	e2 := a.GetEntry("dir/two.txt", dirStat)
	a.NewNode(e2, avfscore.Stat{Type: avfscore.TypeRegular})

	dir := a.Namespace().Resolve("dir")
	if len(dir.Children()) != 2 {
		t.Fatalf("dir should have 2 children, got %d", len(dir.Children()))
	}
}

func TestFilePreadDelegatesToParserAndBoundsAtSize(t *testing.T) {
	a := NewArchive(false, avfscore.Signature{}, "fake", "/a.fake", nil)
	entry := a.GetEntry("member.txt", avfscore.Stat{})
	node := a.NewNode(entry, avfscore.Stat{Type: avfscore.TypeRegular, Size: 5})

	parser := &staticParser{content: []byte("hello")}
	f := NewFile(a, entry, node, byteReaderAt(nil), parser)
	defer f.Close()

	buf := make([]byte, 10)
	n, err := f.Pread(buf, 0)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], []byte("hello")) {
		t.Fatalf("content = %q, want %q", buf[:n], "hello")
	}

	n2, err := f.Pread(buf, 5)
	if err != io.EOF || n2 != 0 {
		t.Fatalf("Pread past end = (%d, %v), want (0, io.EOF)", n2, err)
	}
}

func TestFilePreadOnDirectoryReturnsIsDir(t *testing.T) {
	a := NewArchive(false, avfscore.Signature{}, "fake", "/a.fake", nil)
	entry := a.GetEntry("dir", avfscore.Stat{})
	node := a.DefaultDir(entry, avfscore.Stat{})

	f := NewFile(a, entry, node, byteReaderAt(nil), &staticParser{})
	defer f.Close()

	if _, err := f.Pread(make([]byte, 1), 0); err != avfscore.ErrIsDir {
		t.Fatalf("err = %v, want ErrIsDir", err)
	}
}

func TestFileReadDirListsChildrenWithDotEntries(t *testing.T) {
	a := NewArchive(false, avfscore.Signature{}, "fake", "/a.fake", nil)
	dirEntry := a.GetEntry("dir", avfscore.Stat{})
	dirNode := a.DefaultDir(dirEntry, avfscore.Stat{})
	childEntry := a.GetEntry("dir/child.txt", avfscore.Stat{})
	a.NewNode(childEntry, avfscore.Stat{Type: avfscore.TypeRegular})

	f := NewFile(a, dirEntry, dirNode, byteReaderAt(nil), &staticParser{})
	defer f.Close()

	entries, err := f.ReadDir()
	if err != nil {
		t.Fatal(err)
	}

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["."] || !names[".."] || !names["child.txt"] {
		t.Fatalf("ReadDir entries = %+v", entries)
	}
}

func TestArchiveExtraRoundTrips(t *testing.T) {
	a := NewArchive(false, avfscore.Signature{}, "fake", "/a.fake", nil)
	if a.Extra() != nil {
		t.Fatal("Extra() should start nil")
	}
	a.SetExtra("spool state")
	if a.Extra() != "spool state" {
		t.Fatalf("Extra() = %v, want %q", a.Extra(), "spool state")
	}
}

func TestNewArchiveRunsOnDestroyAtZeroRefs(t *testing.T) {
	destroyed := false
	a := NewArchive(false, avfscore.Signature{}, "fake", "/a.fake", func() { destroyed = true })

	a.Box().Ref()
	a.Box().Unref()
	if destroyed {
		t.Fatal("onDestroy ran too early: box still held by the initial reference")
	}
	a.Box().Unref()
	if !destroyed {
		t.Fatal("onDestroy should run once the box's last reference drops")
	}
}
