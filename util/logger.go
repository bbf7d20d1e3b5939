// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

var levelColors = map[string]*color.Color{
	"ERR": color.New(color.FgRed, color.Bold),
	"WRN": color.New(color.FgYellow),
	"INF": color.New(color.FgBlue),
	"VRB": color.New(color.FgCyan),
	"DBG": color.New(color.FgMagenta),
}

// Logger writes levelled messages to stderr with optional timestamps
// and level prefixes.  Additional file sinks added with AddFile receive
// every message that passes the level filter, always timestamped and
// never coloured.
type Logger struct {
	level      LogLevel
	output     io.Writer
	mu         sync.Mutex
	timestamps bool // if true, prepend timestamps on the primary output
	colored    bool
	files      []*os.File
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	return &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
		colored:    !color.NoColor && IsTerminal(os.Stderr),
	}
}

// NopLogger returns a Logger that discards everything, for callers
// that were not handed one.
func NopLogger() *Logger {
	return &Logger{level: LogQuiet, output: io.Discard}
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) { l.timestamps = on }

// SetOutput overrides the output writer (default: os.Stderr).  Colour
// is kept only when w is itself a terminal.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.colored = !color.NoColor && IsTerminal(w)
}

// AddFile appends every subsequent message to the file at path,
// creating it if needed.
func (l *Logger) AddFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	l.mu.Lock()
	l.files = append(l.files, f)
	l.mu.Unlock()
	return nil
}

// Close flushes and closes all file sinks.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, f := range l.files {
		if err := f.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = nil
	return firstErr
}

// Transcript records session text (messages exchanged, remote shell
// output) in the file sinks only; the console already shows it.  It
// is not subject to the level filter.
func (l *Logger) Transcript(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.files) == 0 {
		return
	}
	msg := fmt.Sprintf(format, args...)
	now := time.Now().Format(time.RFC3339)
	for _, f := range l.files {
		fmt.Fprintf(f, "%s [INF] %s\n", now, msg)
	}
}

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write("INF", format, args...)
	}
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write("WRN", format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.write("VRB", format, args...)
	}
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.write("DBG", format, args...)
	}
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.write("ERR", format, args...)
}

func (l *Logger) write(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	now := time.Now()

	tag := "[" + level + "]"
	if l.colored {
		tag = levelColors[level].Sprint(tag)
	}
	if l.timestamps {
		fmt.Fprintf(l.output, "%s %s %s\n", now.Format("15:04:05.000"), tag, msg)
	} else {
		fmt.Fprintf(l.output, "%s %s\n", tag, msg)
	}

	for _, f := range l.files {
		fmt.Fprintf(f, "%s [%s] %s\n", now.Format(time.RFC3339), level, msg)
	}
}
