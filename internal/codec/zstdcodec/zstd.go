// Package zstdcodec wraps github.com/klauspost/compress/zstd. The decoder
// implements codec.Checkpointer, but the state it saves is only the on-disk
// offset of the frame decoding started at, which is always the first frame:
// frame boundaries passed while decoding are not tracked, so restoring a
// checkpoint restarts decoding from the stream start with TotalOut back at
// zero, at the same cost as a reset.
package zstdcodec

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// decoder implements codec.Decoder and codec.Checkpointer over a
// zstd.Decoder.
type decoder struct {
	base       io.ReaderAt
	dataOffset int64

	frameStart int64 // on-disk offset decoding was last started at
	zr         *zstd.Decoder
	section    *io.SectionReader
	totalOut   int64
}

// Open starts decoding at dataOffset, the start of the first zstd frame.
func Open(base io.ReaderAt, dataOffset int64) (*decoder, error) {
	d := &decoder{base: base, dataOffset: dataOffset}
	if err := d.startAt(dataOffset); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *decoder) startAt(offset int64) error {
	d.frameStart = offset
	d.section = io.NewSectionReader(d.base, offset, 1<<62)
	zr, err := zstd.NewReader(d.section)
	if err != nil {
		return err
	}
	if d.zr != nil {
		d.zr.Close()
	}
	d.zr = zr
	return nil
}

func (d *decoder) Read(p []byte) (int, error) {
	n, err := d.zr.Read(p)
	d.totalOut += int64(n)
	return n, err
}

func (d *decoder) TotalOut() int64 { return d.totalOut }

func (d *decoder) Close() error {
	if d.zr != nil {
		d.zr.Close()
	}
	return nil
}

// SaveState records only the on-disk offset decoding started at (the first
// frame); no decoded-byte count or later frame position is saved.
func (d *decoder) SaveState() ([]byte, error) {
	buf := make([]byte, 8)
	putUint64(buf, uint64(d.frameStart))
	return buf, nil
}

// RestoreState reopens a zstd.Decoder at the saved offset and resets
// TotalOut to zero, the decoded count at the first frame.
func (d *decoder) RestoreState(state []byte) error {
	if len(state) < 8 {
		return io.ErrUnexpectedEOF
	}
	offset := int64(getUint64(state))
	if err := d.startAt(offset); err != nil {
		return err
	}
	d.totalOut = 0
	return nil
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
