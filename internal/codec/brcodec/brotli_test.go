package brcodec

import (
	"bytes"
	"io"
	"os/exec"
	"testing"
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

// TestSequentialRead round-trips through the system brotli binary if
// present; andybalholm/brotli's writer isn't exercised here to keep this
// test symmetric with bzip2codec/xzcodec's external-binary fixtures.
func TestSequentialRead(t *testing.T) {
	bin, err := exec.LookPath("brotli")
	if err != nil {
		t.Skip("brotli binary not available")
	}

	payload := bytes.Repeat([]byte("brcodec round trip payload "), 3000)
	cmd := exec.Command(bin, "-c")
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.Output()
	if err != nil {
		t.Fatal(err)
	}

	dec, err := Open(byteReaderAt(out), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	var got bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, err := dec.Read(buf)
		got.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}

	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatal("decoded content mismatch")
	}
}
