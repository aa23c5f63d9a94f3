package codecfs

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"
	"time"

	"github.com/layerfs/avfs/internal/avfscore"
	"github.com/layerfs/avfs/internal/codec/gzipcodec"
	"github.com/layerfs/avfs/internal/diskcache"
	"github.com/layerfs/avfs/internal/filecache"
)

// fakeHandler/fakeFile stand in for a real local-disk handler, giving
// archive.OpenVEntry something to Open/GetAttr through without pulling in
// internal/posix.
type fakeHandler struct {
	avfscore.BaseHandler
	data []byte
}

func (h *fakeHandler) Name() string         { return "fake" }
func (h *fakeHandler) Extensions() []string { return nil }
func (h *fakeHandler) Lookup(ve *avfscore.VEntry, name string) (*avfscore.VEntry, error) {
	return nil, avfscore.ErrNotFound
}
func (h *fakeHandler) Open(ve *avfscore.VEntry, flags avfscore.OpenFlag) (avfscore.VFile, error) {
	return &fakeFile{data: h.data}, nil
}
func (h *fakeHandler) GetAttr(ve *avfscore.VEntry) (avfscore.Stat, error) {
	return avfscore.Stat{Type: avfscore.TypeRegular, Size: int64(len(h.data)), Mtime: time.Unix(1000, 0)}, nil
}
func (h *fakeHandler) ReadDir(ve *avfscore.VEntry) ([]avfscore.DirEntry, error) {
	return nil, avfscore.ErrNotDir
}
func (h *fakeHandler) GetPath(ve *avfscore.VEntry) (string, error) { return "fake.bin", nil }

type fakeFile struct {
	avfscore.BaseVFile
	data []byte
}

func (f *fakeFile) Pread(p []byte, offset int64) (int, error) {
	if offset >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[offset:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
func (f *fakeFile) GetAttr() (avfscore.Stat, error) { return avfscore.Stat{}, nil }
func (f *fakeFile) Close() error                    { return nil }

func makeGzip(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newGzipHandler() *Handler {
	return New("ugz", []string{".gz"}, gzipcodec.ParseHeader, Wrap(gzipcodec.Open), filecache.New(), diskcache.NewManager())
}

// invocation builds the ve the resolver would hand Lookup for a "#ugz"
// mount atop base: Handler already set to h, Parent pointing at the base
// file's own ventry, per resolver.pushHandler's construction.
func invocation(h *Handler, base *avfscore.VEntry, basePath string) *avfscore.VEntry {
	return &avfscore.VEntry{Handler: h, Parent: base, BasePath: basePath}
}

func TestLookupAndReadGzip(t *testing.T) {
	payload := bytes.Repeat([]byte("gzip codecfs roundtrip "), 500)
	compressed := makeGzip(t, payload)

	h := newGzipHandler()
	base := &avfscore.VEntry{Handler: &fakeHandler{data: compressed}}

	resolved, err := h.Lookup(invocation(h, base, "/a.gz"), "")
	if err != nil {
		t.Fatal(err)
	}

	f, err := h.Open(resolved, avfscore.ORdonly)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var out bytes.Buffer
	buf := make([]byte, 8192)
	var off int64
	for {
		n, err := f.Pread(buf, off)
		out.Write(buf[:n])
		off += int64(n)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}

	if !bytes.Equal(out.Bytes(), payload) {
		t.Fatal("decompressed content mismatch")
	}
}

func TestLookupRejectsExtraPathSegment(t *testing.T) {
	h := newGzipHandler()
	base := &avfscore.VEntry{Handler: &fakeHandler{data: makeGzip(t, []byte("x"))}}
	if _, err := h.Lookup(invocation(h, base, "/a.gz"), "subpath"); err != avfscore.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLookupReusesCachedPayloadForSameSignature(t *testing.T) {
	compressed := makeGzip(t, []byte("cache reuse"))
	h := newGzipHandler()
	base := &avfscore.VEntry{Handler: &fakeHandler{data: compressed}}

	first, err := h.Lookup(invocation(h, base, "/a.gz"), "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.Lookup(invocation(h, base, "/a.gz"), "")
	if err != nil {
		t.Fatal(err)
	}

	firstData := first.Data.(*data)
	secondData := second.Data.(*data)
	if firstData.p != secondData.p {
		t.Fatal("expected the second Lookup to reuse the cached payload's Index, not rebuild it")
	}
}

func TestGetAttrProbesDecodedSize(t *testing.T) {
	payload := bytes.Repeat([]byte("size probe "), 1000)
	h := newGzipHandler()
	base := &avfscore.VEntry{Handler: &fakeHandler{data: makeGzip(t, payload)}}

	resolved, err := h.Lookup(invocation(h, base, "/a.gz"), "")
	if err != nil {
		t.Fatal(err)
	}

	st, err := h.GetAttr(resolved)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size != int64(len(payload)) {
		t.Fatalf("Size = %d, want %d", st.Size, len(payload))
	}
}
