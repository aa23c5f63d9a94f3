package remotefs

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/layerfs/avfs/internal/avfscore"
	"github.com/layerfs/avfs/internal/remote"
)

// fakeTransport is an in-memory remote.Transport standing in for rshfetch/
// httpfetch, enough to exercise Handler.Lookup/Open/ReadDir's traversal and
// refcounting without a real SSH/HTTP endpoint.
type fakeTransport struct {
	dialCount int
	closed    bool
	dirs      map[string][]remote.Entry
	files     map[string][]byte
}

func (f *fakeTransport) List(ctx context.Context, path string) ([]remote.Entry, error) {
	entries, ok := f.dirs[path]
	if !ok {
		return nil, avfscore.ErrNotFound
	}
	return entries, nil
}

func (f *fakeTransport) Get(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, avfscore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data[offset:])), nil
}

func (f *fakeTransport) Wait(ctx context.Context) error { return nil }
func (f *fakeTransport) Close() error                   { f.closed = true; return nil }

func newFakeDialer(t *fakeTransport) Dialer {
	return func(target string) (remote.Transport, error) {
		t.dialCount++
		return t, nil
	}
}

func fixture() *fakeTransport {
	return &fakeTransport{
		dirs: map[string][]remote.Entry{
			"/": {
				{Name: "file.txt", Type: remote.TypeRegular, Size: 5, ModTime: time.Unix(1000, 0)},
				{Name: "sub", Type: remote.TypeDirectory, ModTime: time.Unix(1000, 0)},
			},
			"/sub": {
				{Name: "nested.txt", Type: remote.TypeRegular, Size: 6, ModTime: time.Unix(1000, 0)},
			},
		},
		files: map[string][]byte{
			"/file.txt":       []byte("hello"),
			"/sub/nested.txt": []byte("nested"),
		},
	}
}

func TestLookupMountsAndReadsRootFile(t *testing.T) {
	ft := fixture()
	h := New("rsh", newFakeDialer(ft), t.TempDir())

	root := &avfscore.VEntry{Handler: h}
	rootVE, err := h.Lookup(root, "user@host")
	if err != nil {
		t.Fatal(err)
	}

	fileVE, err := h.Lookup(rootVE, "file.txt")
	if err != nil {
		t.Fatal(err)
	}

	st, err := h.GetAttr(fileVE)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size != 5 {
		t.Fatalf("Size = %d, want 5", st.Size)
	}

	f, err := h.Open(fileVE, avfscore.ORdonly)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	buf := make([]byte, 5)
	n, err := f.Pread(buf, 0)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("content = %q, want %q", buf[:n], "hello")
	}
}

func TestLookupTraversesSubdirectory(t *testing.T) {
	ft := fixture()
	h := New("rsh", newFakeDialer(ft), t.TempDir())

	root := &avfscore.VEntry{Handler: h}
	rootVE, err := h.Lookup(root, "user@host")
	if err != nil {
		t.Fatal(err)
	}
	subVE, err := h.Lookup(rootVE, "sub")
	if err != nil {
		t.Fatal(err)
	}
	nestedVE, err := h.Lookup(subVE, "nested.txt")
	if err != nil {
		t.Fatal(err)
	}

	f, err := h.Open(nestedVE, avfscore.ORdonly)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	buf := make([]byte, 6)
	n, _ := f.Pread(buf, 0)
	if string(buf[:n]) != "nested" {
		t.Fatalf("content = %q, want %q", buf[:n], "nested")
	}
}

func TestSameTargetReusesOneTransport(t *testing.T) {
	ft := fixture()
	h := New("rsh", newFakeDialer(ft), t.TempDir())

	root := &avfscore.VEntry{Handler: h}
	if _, err := h.Lookup(root, "user@host"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Lookup(root, "user@host"); err != nil {
		t.Fatal(err)
	}

	if ft.dialCount != 1 {
		t.Fatalf("dialCount = %d, want 1 (connection should be shared)", ft.dialCount)
	}
}

func TestReadDirListsEntries(t *testing.T) {
	ft := fixture()
	h := New("rsh", newFakeDialer(ft), t.TempDir())

	root := &avfscore.VEntry{Handler: h}
	rootVE, err := h.Lookup(root, "user@host")
	if err != nil {
		t.Fatal(err)
	}

	entries, err := h.ReadDir(rootVE)
	if err != nil {
		t.Fatal(err)
	}

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["."] || !names[".."] || !names["file.txt"] || !names["sub"] {
		t.Fatalf("ReadDir entries = %+v", entries)
	}
}

func TestOpenOnDirectoryFails(t *testing.T) {
	ft := fixture()
	h := New("rsh", newFakeDialer(ft), t.TempDir())

	root := &avfscore.VEntry{Handler: h}
	rootVE, err := h.Lookup(root, "user@host")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Open(rootVE, avfscore.ORdonly); err != avfscore.ErrIsDir {
		t.Fatalf("err = %v, want ErrIsDir", err)
	}
}
