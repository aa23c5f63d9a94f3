package filter

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"testing"
)

func TestReadsChildStdoutAndFeedsStdin(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	payload := []byte("hello from the ciphertext side\n")
	p, err := Start(context.Background(), "cat", nil, bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	var out bytes.Buffer
	buf := make([]byte, 16)
	for {
		n, err := p.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}

	if !bytes.Equal(out.Bytes(), payload) {
		t.Fatalf("got %q, want %q", out.Bytes(), payload)
	}
}

func TestNonzeroExitReportsError(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}

	p, err := Start(context.Background(), "false", nil, bytes.NewReader(nil))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	buf := make([]byte, 16)
	_, err = p.Read(buf)
	if err == nil {
		t.Fatal("expected an error from a nonzero exit status")
	}
}
