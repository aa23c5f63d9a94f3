// Package avlog provides the mask-gated logger used throughout avfs.
//
// Four levels (ERROR, WARNING, SYSCALL, DEBUG) are selected by a bitmask,
// configurable via AVFS_DEBUG (two octal digits) and redirected to a file
// via AVFS_LOGFILE. ERROR and WARNING are on by default; SYSCALL and DEBUG
// are off.
package avlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is one bit of the debug mask.
type Level uint32

const (
	LevelError Level = 1 << iota
	LevelWarning
	LevelSyscall
	LevelDebug
)

const defaultMask = LevelError | LevelWarning

// maskWord holds the current process-wide mask, read/written atomically so
// the avfsstat "debug" pseudo-file can change it concurrently with logging.
var maskWord atomic.Uint32

var (
	initOnce sync.Once
	logger   *slog.Logger
)

func init() {
	maskWord.Store(uint32(defaultMask))
}

// Init reads AVFS_DEBUG/AVFS_LOGFILE and builds the process logger. It is
// idempotent; only the first call takes effect, matching the teacher's
// init-on-first-use singleton pattern for process-wide state (§9).
func Init() {
	initOnce.Do(func() {
		if v := os.Getenv("AVFS_DEBUG"); v != "" {
			if m, err := strconv.ParseUint(v, 8, 32); err == nil {
				maskWord.Store(uint32(m))
			}
		}

		var w io.Writer = os.Stderr
		if path := os.Getenv("AVFS_LOGFILE"); path != "" {
			w = &lumberjack.Logger{
				Filename:   path,
				MaxSize:    10, // MB
				MaxBackups: 3,
				MaxAge:     28, // days
			}
		}

		logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	})
}

// SetMask sets the process-wide debug mask (used by the avfsstat "debug"
// pseudo-file).
func SetMask(m Level) { maskWord.Store(uint32(m)) }

// Mask returns the current process-wide debug mask.
func Mask() Level { return Level(maskWord.Load()) }

func enabled(l Level) bool { return Mask()&l != 0 }

func logAt(l Level, slogLevel slog.Level, msg string, args ...any) {
	Init()
	if !enabled(l) {
		return
	}
	if len(msg) > 1024 {
		msg = msg[:1024]
	}
	logger.Log(context.Background(), slogLevel, msg, args...)
}

// Error logs at ERROR level; these are on by default.
func Error(msg string, args ...any) { logAt(LevelError, slog.LevelError, msg, args...) }

// Warning logs at WARNING level; these are on by default.
func Warning(msg string, args ...any) { logAt(LevelWarning, slog.LevelWarn, msg, args...) }

// Syscall logs a public entry point's argument and result; off by default.
func Syscall(msg string, args ...any) { logAt(LevelSyscall, slog.LevelInfo, msg, args...) }

// Debug logs verbose internal detail; off by default.
func Debug(msg string, args ...any) { logAt(LevelDebug, slog.LevelDebug, msg, args...) }
