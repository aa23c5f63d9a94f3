// Package brcodec wires github.com/andybalholm/brotli as a fifth codec
// beyond spec.md's named gzip/bzip2/xz/zstd list, registered against the
// ".br" extension by the auto-handler (SPEC_FULL.md §4.5's enrichment
// note). brotli.Reader exposes no serializable state, so this decoder
// doesn't implement codec.Checkpointer.
package brcodec

import (
	"io"

	"github.com/andybalholm/brotli"
)

type decoder struct {
	r        *brotli.Reader
	totalOut int64
}

// Open starts decoding the brotli stream at dataOffset.
func Open(base io.ReaderAt, dataOffset int64) (*decoder, error) {
	section := io.NewSectionReader(base, dataOffset, 1<<62)
	return &decoder{r: brotli.NewReader(section)}, nil
}

func (d *decoder) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	d.totalOut += int64(n)
	return n, err
}

func (d *decoder) TotalOut() int64 { return d.totalOut }

func (d *decoder) Close() error { return nil }
