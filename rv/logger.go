package rv

import (
	"fmt"
	"log"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the sink for the two append-only logs: a general log and a
// per-transaction change log. The interface is a thin seam in the style
// of go-fuse's own Logger, so a caller can plug in the file-backed
// NewLogger, NopLogger, NewMemoryLogger or a test spy.
type Logger interface {
	// Log writes one line to the general log, tagged with the calling
	// function's name.
	Log(fname, msg string)
	// LogChange writes msg to both the general log and the change log,
	// prefixing the change-log line with the given transaction id.
	LogChange(txID int, fname, msg string)
}

// fileLogger backs the general log and the change log with independently
// rotating files. Unlike the original's fopen(path, "w"), which truncates
// on every process start, each file here is append-and-rotate: a fresh
// run picks up where the last one left off instead of discarding history,
// and lumberjack's size-based rotation keeps either file from growing
// without bound across a long-running host process.
type fileLogger struct {
	general *log.Logger
	change  *log.Logger
}

// NewLogger returns a Logger backed by rv.log and rv_change.log inside
// dir, each capped and rotated by lumberjack.
func NewLogger(dir string) Logger {
	general := &lumberjack.Logger{
		Filename: filepath.Join(dir, "rv.log"),
		MaxSize:  10, // megabytes
		MaxAge:   28, // days
	}
	change := &lumberjack.Logger{
		Filename: filepath.Join(dir, "rv_change.log"),
		MaxSize:  10,
		MaxAge:   28,
	}
	return &fileLogger{
		general: log.New(general, "", log.LstdFlags),
		change:  log.New(change, "", 0),
	}
}

func (l *fileLogger) Log(fname, msg string) {
	l.general.Printf("%s: %s", fname, msg)
}

func (l *fileLogger) LogChange(txID int, fname, msg string) {
	l.Log(fname, msg)
	l.change.Printf("id=%d, %s", txID, msg)
}

// NopLogger discards everything. Useful in tests that don't want to
// touch the filesystem.
type NopLogger struct{}

func (NopLogger) Log(fname, msg string)                {}
func (NopLogger) LogChange(txID int, fname, msg string) {}

// memoryLogger records lines in memory instead of writing files; used by
// tests that want to assert on log content without touching disk.
type memoryLogger struct {
	general []string
	change  []string
}

// NewMemoryLogger returns a Logger that appends every line to an
// in-memory slice instead of a file, for tests.
func NewMemoryLogger() Logger { return &memoryLogger{} }

func (l *memoryLogger) Log(fname, msg string) {
	l.general = append(l.general, fmt.Sprintf("%s: %s", fname, msg))
}

func (l *memoryLogger) LogChange(txID int, fname, msg string) {
	l.Log(fname, msg)
	l.change = append(l.change, fmt.Sprintf("id=%d, %s", txID, msg))
}
