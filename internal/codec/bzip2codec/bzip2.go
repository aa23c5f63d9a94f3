// Package bzip2codec wraps compress/bzip2 as a codec.Decoder. bzip2's block
// structure isn't exposed by the standard library in a serializable form, so
// this decoder does not implement codec.Checkpointer: per SPEC_FULL.md §4.5,
// backward seeks on a bzip2 stream always fall back to reset-and-replay.
package bzip2codec

import (
	"compress/bzip2"
	"io"
)

type decoder struct {
	r        io.Reader
	totalOut int64
}

// Open starts decoding the bzip2 stream at dataOffset (bzip2 has no
// separate header/body split worth tracking; dataOffset is simply where the
// "BZh" magic begins).
func Open(base io.ReaderAt, dataOffset int64) (*decoder, error) {
	section := io.NewSectionReader(base, dataOffset, 1<<62)
	return &decoder{r: bzip2.NewReader(section)}, nil
}

func (d *decoder) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	d.totalOut += int64(n)
	return n, err
}

func (d *decoder) TotalOut() int64 { return d.totalOut }

func (d *decoder) Close() error { return nil }
