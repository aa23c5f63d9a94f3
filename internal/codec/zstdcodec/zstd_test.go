package zstdcodec

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
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

func makeZstd(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSequentialReadAndCheckpointRestore(t *testing.T) {
	payload := bytes.Repeat([]byte("zstd frame content "), 5000)
	frame := makeZstd(t, payload)
	base := byteReaderAt(frame)

	dec, err := Open(base, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	buf := make([]byte, len(payload))
	n, err := io.ReadFull(dec, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		t.Fatal(err)
	}
	if n != len(payload) || !bytes.Equal(buf, payload) {
		t.Fatal("decoded content mismatch")
	}

	state, err := dec.SaveState()
	if err != nil {
		t.Fatal(err)
	}
	if err := dec.RestoreState(state); err != nil {
		t.Fatal(err)
	}

	buf2 := make([]byte, len(payload))
	n2, err := io.ReadFull(dec, buf2)
	if err != nil && err != io.ErrUnexpectedEOF {
		t.Fatal(err)
	}
	if n2 != len(payload) || !bytes.Equal(buf2, payload) {
		t.Fatal("decoded content mismatch after restore")
	}
}
