// Package xzcodec wraps github.com/ulikunitz/xz for the xz and lzip formats
// named in spec §4.5. Like bzip2, neither format's decoder here implements
// codec.Checkpointer: ulikunitz/xz exposes no mid-stream state snapshot, so
// backward seeks replay from the start.
package xzcodec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

var (
	xzMagic   = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
	lzipMagic = []byte{'L', 'Z', 'I', 'P'}
)

type decoder struct {
	r        io.Reader
	totalOut int64
}

// OpenXZ decodes a .xz container starting at dataOffset.
func OpenXZ(base io.ReaderAt, dataOffset int64) (*decoder, error) {
	section := io.NewSectionReader(base, dataOffset, 1<<62)
	xr, err := xz.NewReader(bufio.NewReader(section))
	if err != nil {
		return nil, err
	}
	return &decoder{r: xr}, nil
}

// OpenLzip decodes a lzip (.lz) container: a 6-byte header ("LZIP" + version
// + coded dictionary size) followed by a headerless LZMA1 stream using the
// fixed lc=3, lp=0, pb=2 properties lzip always uses.
func OpenLzip(base io.ReaderAt, dataOffset int64) (*decoder, error) {
	hdr := make([]byte, 6)
	if _, err := base.ReadAt(hdr, dataOffset); err != nil {
		return nil, err
	}
	if string(hdr[0:4]) != "LZIP" {
		return nil, errors.New("xzcodec: bad lzip magic")
	}

	// Rebuild the 13-byte LZMA1 header lzip omits: the fixed properties byte
	// (lc=3, lp=0, pb=2), the dictionary size coded in hdr[5], and an unknown
	// uncompressed size, so decoding stops at the stream's end marker.
	dictSize := uint32(1) << (hdr[5] & 0x1f)
	dictSize -= (dictSize / 16) * uint32(hdr[5]>>5)
	lzmaHdr := make([]byte, 13)
	lzmaHdr[0] = 0x5D
	binary.LittleEndian.PutUint32(lzmaHdr[1:5], dictSize)
	binary.LittleEndian.PutUint64(lzmaHdr[5:13], ^uint64(0))

	section := io.NewSectionReader(base, dataOffset+6, 1<<62)
	lr, err := lzma.NewReader(io.MultiReader(bytes.NewReader(lzmaHdr), bufio.NewReader(section)))
	if err != nil {
		return nil, err
	}
	return &decoder{r: lr}, nil
}

// Detect picks OpenXZ or OpenLzip based on the magic bytes at dataOffset.
func Detect(base io.ReaderAt, dataOffset int64) (func(io.ReaderAt, int64) (*decoder, error), error) {
	magic := make([]byte, 6)
	n, _ := base.ReadAt(magic, dataOffset)
	magic = magic[:n]
	switch {
	case len(magic) >= len(xzMagic) && string(magic[:len(xzMagic)]) == string(xzMagic):
		return OpenXZ, nil
	case len(magic) >= len(lzipMagic) && string(magic[:len(lzipMagic)]) == string(lzipMagic):
		return OpenLzip, nil
	default:
		return nil, errors.New("xzcodec: unrecognized magic")
	}
}

func (d *decoder) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	d.totalOut += int64(n)
	return n, err
}

func (d *decoder) TotalOut() int64 { return d.totalOut }

func (d *decoder) Close() error { return nil }
