// Package avfscore defines the core types shared across handlers: the
// error taxonomy, the avstat structure, open-flag constants, and the
// process-wide Context that replaces the C original's global state, per
// SPEC_FULL.md §7/§9.
package avfscore

import "fmt"

// Errno is a POSIX-flavored error kind, the Go rendition of spec §7's "kind,
// not name" taxonomy: callers that need to distinguish recoverable from
// fatal situations can type-switch or use errors.Is against the sentinel
// values below instead of parsing error strings.
type Errno int

const (
	ErrNone Errno = iota
	ErrNotFound
	ErrNotDir
	ErrIsDir
	ErrExists
	ErrPermission
	ErrReadOnly
	ErrIO
	ErrNoMemory
	ErrDiskFull
	ErrInvalidArgument
	ErrLoop
	ErrNotSupported
	ErrNotEmpty
	ErrTimeout
	ErrCrossMount
)

var errnoText = map[Errno]string{
	ErrNone:            "no error",
	ErrNotFound:        "no such file or directory",
	ErrNotDir:          "not a directory",
	ErrIsDir:           "is a directory",
	ErrExists:          "file exists",
	ErrPermission:      "permission denied",
	ErrReadOnly:        "read-only filesystem",
	ErrIO:              "input/output error",
	ErrNoMemory:        "out of memory",
	ErrDiskFull:        "no space left on device",
	ErrInvalidArgument: "invalid argument",
	ErrLoop:            "too many levels of symbolic links",
	ErrNotSupported:    "operation not supported",
	ErrNotEmpty:        "directory not empty",
	ErrTimeout:         "operation timed out",
	ErrCrossMount:      "cross-device link",
}

func (e Errno) Error() string {
	if s, ok := errnoText[e]; ok {
		return s
	}
	return fmt.Sprintf("avfscore: unknown errno %d", int(e))
}

// Error wraps an Errno with operation context, the equivalent of errno plus
// the syscall.PathError the POSIX façade ultimately returns.
type Error struct {
	Op   string
	Path string
	Kind Errno
	Err  error // underlying cause, if any (e.g. a decoder error producing ErrIO)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("avfs: %s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("avfs: %s %s: %s", e.Op, e.Path, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, SomeErrno) by comparing Kind.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Errno); ok {
		return e.Kind == k
	}
	return false
}

// NewError builds an *Error, the usual way internal code reports failures.
func NewError(op, path string, kind Errno, cause error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: cause}
}
