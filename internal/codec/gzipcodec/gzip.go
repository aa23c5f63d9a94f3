// Package gzipcodec implements the gzip-family Decoder named in
// SPEC_FULL.md §4.5: the 10-byte header (+ optional extra/name/comment) is
// parsed by hand so the raw deflate body can be driven directly through
// compress/flate. This decoder does not implement codec.Checkpointer:
// compress/flate exposes no way to tell whether a given compressed-stream
// offset lands on a deflate block boundary, and restarting mid-block
// produces garbage, so — like bzip2codec — backward seeks on an ordinary
// gzip stream always fall back to reset-and-replay.
package gzipcodec

import (
	"bufio"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/layerfs/avfs/internal/avlog"
)

var magic = [2]byte{0x1f, 0x8b}

const (
	flagFTEXT    = 1 << 0
	flagFHCRC    = 1 << 1
	flagFEXTRA   = 1 << 2
	flagFNAME    = 1 << 3
	flagFCOMMENT = 1 << 4
)

// ParseHeader reads one gzip member header starting at offset and returns
// the offset of its raw deflate data.
func ParseHeader(base io.ReaderAt, offset int64) (dataOffset int64, err error) {
	hdr := make([]byte, 10)
	if _, err := base.ReadAt(hdr, offset); err != nil {
		return 0, fmt.Errorf("gzipcodec: read header: %w", err)
	}
	if hdr[0] != magic[0] || hdr[1] != magic[1] {
		return 0, errors.New("gzipcodec: bad magic")
	}
	if hdr[2] != 8 {
		return 0, errors.New("gzipcodec: unsupported compression method")
	}
	flg := hdr[3]
	pos := offset + 10

	if flg&flagFEXTRA != 0 {
		lenBuf := make([]byte, 2)
		if _, err := base.ReadAt(lenBuf, pos); err != nil {
			return 0, err
		}
		xlen := int64(binary.LittleEndian.Uint16(lenBuf))
		pos += 2 + xlen
	}
	if flg&flagFNAME != 0 {
		pos, err = skipCString(base, pos)
		if err != nil {
			return 0, err
		}
	}
	if flg&flagFCOMMENT != 0 {
		pos, err = skipCString(base, pos)
		if err != nil {
			return 0, err
		}
	}
	if flg&flagFHCRC != 0 {
		pos += 2
	}
	return pos, nil
}

func skipCString(base io.ReaderAt, pos int64) (int64, error) {
	buf := make([]byte, 1)
	for {
		if _, err := base.ReadAt(buf, pos); err != nil {
			return 0, err
		}
		pos++
		if buf[0] == 0 {
			return pos, nil
		}
	}
}

// sectionFrom adapts an io.ReaderAt + starting offset into an io.Reader.
func sectionFrom(r io.ReaderAt, offset int64) *io.SectionReader {
	return io.NewSectionReader(r, offset, 1<<62)
}

// countingReader tracks how many bytes have been pulled from its source,
// so the on-disk offset of the member trailer can be located.
type countingReader struct {
	r        io.Reader
	consumed int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.consumed += int64(n)
	return n, err
}

// decoder implements codec.Decoder.
type decoder struct {
	base        io.ReaderAt
	memberStart int64 // on-disk offset where the current member's data begins
	cr          *countingReader
	br          *bufio.Reader
	fr          io.ReadCloser
	crc         uint32
	totalOut    int64
}

// Open starts decoding at dataOffset, the offset returned by ParseHeader for
// the stream's first member.
func Open(base io.ReaderAt, dataOffset int64) (*decoder, error) {
	d := &decoder{base: base}
	if err := d.startMember(dataOffset); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *decoder) startMember(dataOffset int64) error {
	d.memberStart = dataOffset
	d.cr = &countingReader{r: sectionFrom(d.base, dataOffset)}
	d.br = bufio.NewReaderSize(d.cr, 4096)
	d.fr = flate.NewReader(d.br)
	d.crc = 0
	return nil
}

func (d *decoder) Read(p []byte) (int, error) {
	n, err := d.fr.Read(p)
	if n > 0 {
		d.crc = crc32.Update(d.crc, crc32.IEEETable, p[:n])
		d.totalOut += int64(n)
	}
	if err == io.EOF {
		if n > 0 {
			// Deliver this chunk first; the trailer/next-member handling
			// happens on the next call, per the engine's discard-and-replay
			// contract.
			return n, nil
		}
		if err := d.finishMemberAndMaybeContinue(); err != nil {
			return 0, err
		}
		return d.Read(p) // a following member was started; decode into it
	}
	return n, err
}

// finishMemberAndMaybeContinue reads and validates the 8-byte trailer, then
// peeks for a following gzip member (the "gzip-encapsulated" multi-member
// handling of spec §4.5).
func (d *decoder) finishMemberAndMaybeContinue() error {
	trailerStart := d.memberStart + d.cr.consumed - int64(d.br.Buffered())
	trailer := make([]byte, 8)
	if _, err := d.base.ReadAt(trailer, trailerStart); err != nil {
		return fmt.Errorf("gzipcodec: read trailer: %w", err)
	}
	wantCRC := binary.LittleEndian.Uint32(trailer[0:4])
	if wantCRC != d.crc {
		avlog.Warning("gzipcodec: CRC mismatch at member end", "want", wantCRC, "got", d.crc)
	}

	next := trailerStart + 8
	peek := make([]byte, 2)
	if _, err := d.base.ReadAt(peek, next); err == nil && peek[0] == magic[0] && peek[1] == magic[1] {
		dataOff, err := ParseHeader(d.base, next)
		if err != nil {
			return io.EOF
		}
		if err := d.startMember(dataOff); err != nil {
			return err
		}
		return nil // Read continues into the new member in the same call
	}
	return io.EOF
}

func (d *decoder) TotalOut() int64 { return d.totalOut }

func (d *decoder) Close() error {
	if d.fr != nil {
		return d.fr.Close()
	}
	return nil
}
