package avfscore

import "time"

// FileType enumerates avstat's st_mode file-type bits, carried as a
// distinct field here instead of packed into a mode word: idiomatic Go
// favors explicit fields over manual bit-twiddling.
type FileType int

const (
	TypeRegular FileType = iota
	TypeDirectory
	TypeSymlink
	TypeUnknown
)

// Stat is the avstat structure of spec §6: a superset of POSIX stat with
// nanosecond timestamps and explicit block accounting, exposed as a stable
// value type to every handler and to the POSIX façade.
type Stat struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32 // permission bits only; see Type for the file kind
	Type    FileType
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Size    int64
	Blksize int64
	Blocks  int64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// Signature is the (dev, ino, size, mtime) tuple recorded at archive-parse
// time and rechecked against the live base file before reuse (spec §3's
// archive invariant).
type Signature struct {
	Dev   uint64
	Ino   uint64
	Size  int64
	Mtime time.Time
}

func (s Signature) Matches(o Signature) bool {
	return s.Dev == o.Dev && s.Ino == o.Ino && s.Size == o.Size && s.Mtime.Equal(o.Mtime)
}
