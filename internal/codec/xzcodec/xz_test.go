package xzcodec

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

func drain(t *testing.T, dec *decoder) []byte {
	t.Helper()
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
	return got.Bytes()
}

// TestSequentialReadXZ round-trips through the system xz binary if present;
// ulikunitz/xz exposes no writer in this pack to build a fixture from.
func TestSequentialReadXZ(t *testing.T) {
	bin, err := exec.LookPath("xz")
	if err != nil {
		t.Skip("xz binary not available")
	}

	payload := bytes.Repeat([]byte("xzcodec round trip payload "), 3000)
	cmd := exec.Command(bin, "-c", "-z")
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.Output()
	if err != nil {
		t.Fatal(err)
	}

	dec, err := OpenXZ(byteReaderAt(out), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	if got := drain(t, dec); !bytes.Equal(got, payload) {
		t.Fatal("decoded content mismatch")
	}
}

// TestSequentialReadLzip round-trips through the system lzip binary if
// present.
func TestSequentialReadLzip(t *testing.T) {
	bin, err := exec.LookPath("lzip")
	if err != nil {
		t.Skip("lzip binary not available")
	}

	payload := bytes.Repeat([]byte("lzipcodec round trip payload "), 3000)
	cmd := exec.Command(bin, "-c")
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.Output()
	if err != nil {
		t.Fatal(err)
	}

	dec, err := OpenLzip(byteReaderAt(out), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	if got := drain(t, dec); !bytes.Equal(got, payload) {
		t.Fatal("decoded content mismatch")
	}
}

func TestDetectPicksFormatByMagic(t *testing.T) {
	xzData := append(append([]byte{}, xzMagic...), []byte("rest of stream")...)
	open, err := Detect(byteReaderAt(xzData), 0)
	if err != nil {
		t.Fatal(err)
	}
	if open == nil {
		t.Fatal("Detect returned nil opener for xz magic")
	}

	lzipData := append(append([]byte{}, lzipMagic...), []byte("rest of stream")...)
	if _, err := Detect(byteReaderAt(lzipData), 0); err != nil {
		t.Fatal(err)
	}

	if _, err := Detect(byteReaderAt([]byte("not a recognized container")), 0); err == nil {
		t.Fatal("expected error for unrecognized magic")
	}
}
