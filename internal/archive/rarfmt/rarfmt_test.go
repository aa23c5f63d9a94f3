package rarfmt

import (
	"os"
	"testing"

	"github.com/layerfs/avfs/internal/archive"
	"github.com/layerfs/avfs/internal/avfscore"
)

// rardecode has no pure-Go encoder in this pack to build a real fixture
// from, so Parse itself (which shells rardecode.OpenReader against a real
// .rar path) is not exercised by these tests; they cover what Read and
// spool.Close can be driven through directly:
// the Node.Extra/spool contract every other archive format in this package
// shares.

func TestReadServesFromSpoolFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "rarmember")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	want := "decompressed rar member content"
	if _, err := f.WriteString(want); err != nil {
		t.Fatal(err)
	}

	node := &archive.Node{Extra: f}
	p := New(t.TempDir(), "")

	buf := make([]byte, len(want))
	n, err := p.Read(nil, node, nil, buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != want {
		t.Fatalf("content = %q, want %q", buf[:n], want)
	}
}

func TestReadWithoutSpoolReturnsNotFound(t *testing.T) {
	p := New(t.TempDir(), "")
	node := &archive.Node{}
	buf := make([]byte, 4)
	if _, err := p.Read(nil, node, nil, buf, 0); err != avfscore.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSpoolCloseRemovesEveryFile(t *testing.T) {
	dir := t.TempDir()
	f1, err := os.CreateTemp(dir, "a")
	if err != nil {
		t.Fatal(err)
	}
	f2, err := os.CreateTemp(dir, "b")
	if err != nil {
		t.Fatal(err)
	}

	sp := &spool{files: map[string]*os.File{"a": f1, "b": f2}}
	if err := sp.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(f1.Name()); !os.IsNotExist(err) {
		t.Fatal("expected f1 to be removed")
	}
	if _, err := os.Stat(f2.Name()); !os.IsNotExist(err) {
		t.Fatal("expected f2 to be removed")
	}
}
