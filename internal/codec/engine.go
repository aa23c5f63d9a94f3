// Package codec implements the random-access decompression engine common to
// every compression format AVFS supports: one zfile-equivalent decoder
// instance (Stream) per open, backed by one zcache-equivalent checkpoint
// index (Index) per logical compressed stream, per SPEC_FULL.md §4.5.
//
// Format-specific packages (gzipcodec, bzip2codec, xzcodec, zstdcodec,
// brcodec) implement the Decoder interface; this package supplies the
// shared seek algorithm, checkpoint bookkeeping, and the process-wide
// single-slot stream cache.
package codec

import (
	"fmt"
	"io"
	"sync"

	"github.com/layerfs/avfs/internal/avlog"
)

// DefaultRestoreCost models the cost of restoring a saved decoder state, in
// equivalent inflated bytes (the spec's ZCACHE_EXTRA_DIST, an Open Question
// resolved as a tunable in [10_000, 500_000]; SPEC_FULL.md records 45_000 as
// the default).
const DefaultRestoreCost = 45_000

// IndexDistance is the spacing, in decoded bytes, between checkpoints.
const IndexDistance = 1 << 20 // 1 MiB

// Decoder is the per-format random-access-incapable decompressor contract.
// Implementations decode sequentially from the start of the compressed
// stream; this package adds random access on top.
type Decoder interface {
	// Read decodes the next chunk of plaintext, like io.Reader.
	Read(p []byte) (int, error)
	// TotalOut returns the number of decoded bytes produced so far.
	TotalOut() int64
	// Close releases decoder resources.
	Close() error
}

// Checkpointer is implemented by Decoders whose state can be serialized and
// later restored (zstdcodec's decoder is the one implementation in this
// module). Decoders that don't implement it fall back to
// reset-and-replay on backward seeks, per spec §4.5's "they do not
// checkpoint mid-stream" clause for xz/lzip/bzip2.
type Checkpointer interface {
	// SaveState serializes enough decoder state to resume decoding from
	// TotalOut() without re-reading the stream from the start.
	SaveState() ([]byte, error)
	// RestoreState resumes decoding from a state produced by SaveState.
	RestoreState(state []byte) error
}

// Opener constructs a fresh Decoder reading from the given base reader,
// starting at the compressed-stream's data offset.
type Opener func(base io.ReaderAt, dataOffset int64) (Decoder, error)

// checkpoint is one zcache index record.
type checkpoint struct {
	decodedOffset int64
	state         []byte // nil if the decoder isn't a Checkpointer
}

// Index is the zcache equivalent: accumulated checkpoints for one logical
// compressed stream, shared by every Stream opened against that stream.
type Index struct {
	mu            sync.Mutex
	checkpoints   []checkpoint // sorted by decodedOffset
	size          int64        // -1 until known
	nextCheckpoint int64
}

// NewIndex creates an empty checkpoint index for a new logical stream.
func NewIndex() *Index {
	return &Index{size: -1, nextCheckpoint: IndexDistance}
}

// Size returns the decoded size once known, or (-1, false).
func (idx *Index) Size() (int64, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.size < 0 {
		return 0, false
	}
	return idx.size, true
}

// SetSize records the decoded size once full traversal discovers it.
func (idx *Index) SetSize(n int64) {
	idx.mu.Lock()
	idx.size = n
	idx.mu.Unlock()
}

// best returns the highest checkpoint with decodedOffset <= offset, or
// (checkpoint{}, false) if none qualifies.
func (idx *Index) best(offset int64) (checkpoint, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var found checkpoint
	ok := false
	for _, cp := range idx.checkpoints {
		if cp.decodedOffset <= offset && cp.decodedOffset >= found.decodedOffset {
			found = cp
			ok = true
		}
	}
	return found, ok
}

func (idx *Index) maybeCheckpoint(totalOut int64, save func() ([]byte, error)) {
	idx.mu.Lock()
	due := totalOut >= idx.nextCheckpoint
	if due {
		idx.nextCheckpoint = totalOut + IndexDistance
	}
	idx.mu.Unlock()

	if !due {
		return
	}

	var state []byte
	if save != nil {
		s, err := save()
		if err != nil {
			avlog.Warning("codec: checkpoint save failed", "error", err)
			return
		}
		state = s
	}

	idx.mu.Lock()
	idx.checkpoints = append(idx.checkpoints, checkpoint{decodedOffset: totalOut, state: state})
	idx.mu.Unlock()
}

// streamCacheSlot is the process-wide single-slot "stream cache" of spec
// §4.5 step 3: an advanced decoder from some previous Stream, keyed by the
// Index it was bound to, kept alive for possible reuse by the next opener
// of the same logical stream.
type streamCacheSlot struct {
	mu      sync.Mutex
	indexID *Index
	dec     Decoder
}

var globalStreamCache streamCacheSlot

func (s *streamCacheSlot) take(idx *Index) Decoder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexID == idx && s.dec != nil {
		d := s.dec
		s.dec = nil
		s.indexID = nil
		return d
	}
	return nil
}

func (s *streamCacheSlot) put(idx *Index, dec Decoder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dec != nil {
		s.dec.Close()
	}
	s.indexID = idx
	s.dec = dec
}

// Stream is the zfile equivalent: one open decoder instance bound to one
// base reader, consulting a shared Index for checkpoints.
type Stream struct {
	mu         sync.Mutex
	base       io.ReaderAt
	dataOffset int64
	open       Opener
	index      *Index

	dec      Decoder
	iserror  bool
	discard  []byte
}

// NewStream opens a random-access decoder over base, starting decompression
// at dataOffset, consulting/populating index for checkpoints.
func NewStream(base io.ReaderAt, dataOffset int64, open Opener, index *Index) (*Stream, error) {
	s := &Stream{base: base, dataOffset: dataOffset, open: open, index: index}
	dec, err := open(base, dataOffset)
	if err != nil {
		return nil, fmt.Errorf("codec: open decoder: %w", err)
	}
	s.dec = dec
	return s, nil
}

// Close releases the decoder. If it is still usable it is offered to the
// process-wide stream-cache slot instead of being closed immediately.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dec == nil {
		return nil
	}
	if !s.iserror {
		globalStreamCache.put(s.index, s.dec)
		s.dec = nil
		return nil
	}
	err := s.dec.Close()
	s.dec = nil
	return err
}

func (s *Stream) totalOut() int64 {
	if s.dec == nil {
		return 0
	}
	return s.dec.TotalOut()
}

// Pread serves up to len(p) bytes at offset, per the seek algorithm of spec
// §4.5 steps 1-5.
func (s *Stream) Pread(p []byte, offset int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.iserror {
		return 0, fmt.Errorf("codec: stream is poisoned by a prior error")
	}

	if size, ok := s.index.Size(); ok && offset >= size {
		return 0, io.EOF
	}

	if err := s.seekTo(offset); err != nil {
		if err == io.EOF {
			// offset landed beyond the stream's true end, discovered only
			// now by running the decoder dry; record the size like the
			// already-known-size path above instead of poisoning the
			// stream over a graceful EOF.
			s.index.SetSize(s.totalOut())
			return 0, io.EOF
		}
		s.iserror = true
		return 0, err
	}

	n, err := io.ReadFull(s.dec, p)
	if err == io.ErrUnexpectedEOF {
		err = nil // short final read is not an error at true EOF
	}
	if err != nil && err != io.EOF {
		s.iserror = true
		return n, err
	}

	s.index.maybeCheckpoint(s.totalOut(), s.saveFunc())

	if err == io.EOF && n == 0 {
		s.index.SetSize(s.totalOut())
		return 0, io.EOF
	}
	return n, nil
}

func (s *Stream) saveFunc() func() ([]byte, error) {
	cp, ok := s.dec.(Checkpointer)
	if !ok {
		return nil
	}
	return cp.SaveState
}

// seekTo positions the decoder so the next Read produces bytes starting at
// offset, choosing the minimum-distance option among: the best checkpoint,
// forward-from-current, and the process-wide stream cache slot.
func (s *Stream) seekTo(offset int64) error {
	curr := s.totalOut()
	if offset == curr {
		return nil
	}

	type option struct {
		distance int64
		apply    func() error
	}

	var options []option

	if cp, ok := s.index.best(offset); ok {
		d := offset - cp.decodedOffset + DefaultRestoreCost
		cpCopy := cp
		options = append(options, option{distance: d, apply: func() error {
			return s.restoreCheckpoint(cpCopy)
		}})
	}

	if offset >= curr {
		options = append(options, option{distance: offset - curr, apply: func() error { return nil }})
	}

	if sc := globalStreamCache.take(s.index); sc != nil {
		if sc.TotalOut() <= offset {
			d := offset - sc.TotalOut()
			options = append(options, option{distance: d, apply: func() error {
				old := s.dec
				s.dec = sc
				if old != nil {
					old.Close()
				}
				return nil
			}})
		} else {
			sc.Close()
		}
	}

	// Resetting to stream start is always a valid, if expensive, fallback.
	options = append(options, option{distance: offset, apply: func() error {
		return s.resetDecoder()
	}})

	best := options[0]
	for _, o := range options[1:] {
		if o.distance < best.distance {
			best = o
		}
	}

	if err := best.apply(); err != nil {
		return err
	}

	return s.discardTo(offset)
}

func (s *Stream) restoreCheckpoint(cp checkpoint) error {
	cpr, ok := s.dec.(Checkpointer)
	if !ok || cp.state == nil {
		return s.resetDecoder()
	}
	if err := cpr.RestoreState(cp.state); err != nil {
		return fmt.Errorf("codec: restore checkpoint: %w", err)
	}
	return nil
}

func (s *Stream) resetDecoder() error {
	if s.dec != nil {
		s.dec.Close()
	}
	dec, err := s.open(s.base, s.dataOffset)
	if err != nil {
		return fmt.Errorf("codec: reopen decoder: %w", err)
	}
	s.dec = dec
	return nil
}

func (s *Stream) discardTo(offset int64) error {
	target := offset
	for {
		curr := s.totalOut()
		if curr >= target {
			return nil
		}
		if s.discard == nil {
			s.discard = make([]byte, 64*1024)
		}
		toRead := target - curr
		buf := s.discard
		if int64(len(buf)) > toRead {
			buf = buf[:toRead]
		}
		n, err := s.dec.Read(buf)
		if n > 0 {
			s.index.maybeCheckpoint(s.totalOut(), s.saveFunc())
		}
		if err != nil {
			if err == io.EOF {
				return io.EOF
			}
			return err
		}
	}
}
