package archive

import (
	"io"

	"github.com/layerfs/avfs/internal/avfscore"
)

// vfileReaderAt adapts an avfscore.VFile's Pread into io.ReaderAt, so any
// handler's opened file can serve as an archive's base reader regardless of
// which layer (local disk, remote fetch, another archive) produced it.
type vfileReaderAt struct {
	vf avfscore.VFile
}

func (v *vfileReaderAt) ReadAt(p []byte, off int64) (int, error) { return v.vf.Pread(p, off) }

// Close releases the underlying VFile, so OpenVEntry's caller can treat the
// returned io.ReaderAt as closeable via a type assertion to io.Closer.
func (v *vfileReaderAt) Close() error { return v.vf.Close() }

// OpenVEntry is the generic archive.BaseOpener: it opens the ventry one
// mount layer below ve (ve.Parent, the already-resolved base the "#"
// invocation is mounted on) for reading, through that layer's own Handler
// rather than assuming a local disk file. This is what lets an archive
// mount atop a remote-fetched file or another archive's member, not only a
// native path.
func OpenVEntry(ve *avfscore.VEntry) (io.ReaderAt, avfscore.Stat, error) {
	base := ve.Parent
	if base == nil {
		return nil, avfscore.Stat{}, avfscore.ErrInvalidArgument
	}

	st, err := base.Handler.GetAttr(base)
	if err != nil {
		return nil, avfscore.Stat{}, err
	}

	vf, err := base.Handler.Open(base, avfscore.ORdonly)
	if err != nil {
		return nil, avfscore.Stat{}, err
	}

	return &vfileReaderAt{vf: vf}, st, nil
}
