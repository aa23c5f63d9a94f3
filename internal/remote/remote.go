// Package remote defines the transport contract that lets an avfs handler
// pull a directory listing and byte stream from something other than the
// local disk: a remote shell, an HTTP origin. It is the Go-native
// generalization of the spec's single `parsels` remote-mount contract into
// an interface with two concrete implementations, rshfetch and httpfetch.
package remote

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// EntryType distinguishes what parsels saw for one remote path.
type EntryType int

const (
	TypeRegular EntryType = iota
	TypeDirectory
	TypeSymlink
)

// Entry is one line of a remote directory listing, the result of parsing
// one `ls -la`-style record (parsels's job in the original contract).
type Entry struct {
	Name    string
	Type    EntryType
	Size    int64
	Mode    uint32
	ModTime time.Time
	Target  string // symlink target, if Type == TypeSymlink
}

// Transport is the contract every remote fetcher implements: list a
// directory, open a byte stream for one file, and tear down cleanly.
type Transport interface {
	// List returns the parsed directory entries at path on the remote side.
	List(ctx context.Context, path string) ([]Entry, error)

	// Get opens path for sequential reading starting at offset. The
	// returned ReadCloser is handed to internal/sfile to gain random
	// access.
	Get(ctx context.Context, path string, offset int64) (io.ReadCloser, error)

	// Wait blocks until any background connection-management goroutines
	// the transport started have settled, used by callers that need a
	// clean point to inspect transport health.
	Wait(ctx context.Context) error

	// Close releases the underlying connection or client.
	Close() error
}

// ParseLS parses the output of a POSIX `ls -la` invocation into Entry
// values. This is the shared `parsels` logic: rshfetch stages its remote
// `ls -la` output through it, so a new transport only needs to produce
// ls-compatible text. httpfetch does not use it; it parses an HTML index.
func ParseLS(output string) ([]Entry, error) {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "total ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		perm := fields[0]
		size, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("remote: parse size in %q: %w", line, err)
		}
		name := strings.Join(fields[8:], " ")

		e := Entry{Name: name, Size: size, Mode: parseMode(perm)}
		switch perm[0] {
		case 'd':
			e.Type = TypeDirectory
		case 'l':
			if idx := strings.Index(name, " -> "); idx >= 0 {
				e.Target = name[idx+4:]
				e.Name = name[:idx]
			}
			e.Type = TypeSymlink
		default:
			e.Type = TypeRegular
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseMode(perm string) uint32 {
	var mode uint32
	bits := []struct {
		ch  byte
		bit uint32
	}{
		{'r', 0o400}, {'w', 0o200}, {'x', 0o100},
		{'r', 0o040}, {'w', 0o020}, {'x', 0o010},
		{'r', 0o004}, {'w', 0o002}, {'x', 0o001},
	}
	for i, b := range bits {
		pos := 1 + i
		if pos < len(perm) && perm[pos] != '-' {
			mode |= b.bit
		}
	}
	return mode
}
