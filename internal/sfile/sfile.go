// Package sfile adapts a strictly sequential, non-seekable byte source (an
// external filter's stdout, a remote fetch stream) into something that
// supports random-access Pread, by spooling consumed bytes to a temp file as
// they're read, per SPEC_FULL.md §4.6/4.7's "serial file" concept.
//
// The spool discipline is grounded on the teacher's nzbfilesystem/segcache
// package, which writes fetched data to a temp path and atomically renames
// it into place; here the spool is a single growing file rather than
// segment-keyed entries, because a serial file has exactly one source.
package sfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/layerfs/avfs/internal/avlog"
)

// ErrNotSupported is returned by Pwrite/Truncate: write support to
// compressed/archived containers is out of scope per spec §7 Non-goals
// (tar is the sole, narrow exception, implemented in package archive/tarfmt).
var ErrNotSupported = errors.New("sfile: operation not supported")

// Source is a one-shot, forward-only byte producer: an external filter's
// stdout, a decompressor, a remote fetch stream.
type Source interface {
	io.Reader
	Close() error
}

// state models the BEGIN/READ/IDLE lifecycle of spec §4.6.
type state int

const (
	stateBegin state = iota
	stateRead
	stateIdle
)

// File presents random access over a Source by spooling consumed bytes to a
// temp file (unless NOCACHE, in which case only strictly sequential forward
// reads are served and nothing is retained).
type File struct {
	mu      sync.Mutex
	src     Source
	state   state
	spool   *os.File
	spooled int64 // bytes durably written to spool (== bytes consumed from src, in cache mode)
	nocache bool
	size    int64 // -1 until EOF has been observed
	err     error
}

// Options configures a File.
type Options struct {
	// NoCache disables spooling: only monotonically increasing offsets can
	// be served, and nothing is retained for a later backward read.
	NoCache bool
	// TempDir is the directory spool files are created in (os.TempDir if
	// empty).
	TempDir string
}

// New wraps src for random access, spooling to a temp file in opts.TempDir
// unless opts.NoCache is set.
func New(src Source, opts Options) (*File, error) {
	f := &File{src: src, nocache: opts.NoCache, size: -1, state: stateBegin}
	if !opts.NoCache {
		tmp, err := os.CreateTemp(opts.TempDir, "avfs-sfile-*")
		if err != nil {
			return nil, fmt.Errorf("sfile: create spool: %w", err)
		}
		// Unlinking immediately means the spool is reclaimed automatically
		// on process exit even if Close is never called.
		os.Remove(tmp.Name())
		f.spool = tmp
	}
	return f, nil
}

// Pread serves up to len(p) bytes starting at offset, consuming (and, unless
// NoCache, spooling) source bytes as needed to reach it.
func (f *File) Pread(p []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return 0, f.err
	}
	if f.size >= 0 && offset >= f.size {
		return 0, io.EOF
	}

	if offset < f.spooled {
		if f.nocache {
			return 0, fmt.Errorf("sfile: backward read at offset %d (consumed %d): %w", offset, f.spooled, ErrNotSupported)
		}
		return f.spool.ReadAt(p, offset)
	}

	if offset > f.spooled {
		if err := f.advanceTo(offset); err != nil {
			return 0, err
		}
	}

	f.state = stateRead
	n, err := f.consume(p)
	if err == io.EOF {
		f.size = f.spooled
		f.state = stateIdle
		avlog.Debug("sfile: reached EOF", "size", f.size)
	}
	if n > 0 {
		return n, nil
	}
	return n, err
}

// Size discovers the source's total length by draining it to EOF (the
// spec's "dummy pread at MAX_OFF" discovery technique), returning the
// already-known size if a prior read already found it.
func (f *File) Size() (int64, error) {
	f.mu.Lock()
	if f.size >= 0 {
		defer f.mu.Unlock()
		return f.size, nil
	}
	f.mu.Unlock()

	buf := make([]byte, 64*1024)
	for {
		var n int
		var err error
		func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.err != nil {
				err = f.err
				return
			}
			n, err = f.consume(buf)
			if err == io.EOF {
				f.size = f.spooled
				f.state = stateIdle
			}
		}()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		_ = n
	}
	return f.size, nil
}

// advanceTo discards source bytes (spooling them in cache mode) until
// f.spooled reaches target.
func (f *File) advanceTo(target int64) error {
	discard := make([]byte, 64*1024)
	for f.spooled < target {
		want := target - f.spooled
		buf := discard
		if int64(len(buf)) > want {
			buf = buf[:want]
		}
		n, err := f.consume(buf)
		if err == io.EOF && n == 0 {
			f.size = f.spooled
			f.state = stateIdle
			return io.EOF
		}
		if err != nil && err != io.EOF {
			f.err = err
			return err
		}
	}
	return nil
}

// consume reads the next chunk from src into p, spooling it (unless
// NoCache) and advancing f.spooled.
func (f *File) consume(p []byte) (int, error) {
	n, err := f.src.Read(p)
	if n > 0 {
		if !f.nocache {
			if _, werr := f.spool.WriteAt(p[:n], f.spooled); werr != nil {
				f.err = fmt.Errorf("sfile: spool write: %w", werr)
				return 0, f.err
			}
		}
		f.spooled += int64(n)
	}
	return n, err
}

// Pwrite and Truncate are unsupported: writing into archive/compressed
// container contents is out of scope except for tar, which is handled by
// package archive/tarfmt's rename-tempfile commit path rather than here.
func (f *File) Pwrite(p []byte, offset int64) (int, error) { return 0, ErrNotSupported }
func (f *File) Truncate(size int64) error                  { return ErrNotSupported }

// Close releases the source and spool.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.src != nil {
		err = f.src.Close()
	}
	if f.spool != nil {
		f.spool.Close()
	}
	return err
}
