// Package util provides low-level helpers shared by all other packages.
package util

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// LevelFor maps a -v count to a zerolog level: 0 error, 1 info, 2 debug,
// 3 and above trace.
func LevelFor(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.ErrorLevel
	case verbosity == 1:
		return zerolog.InfoLevel
	case verbosity == 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// NewLogger returns a human-readable zerolog logger writing to w.  Colour
// is used only when w is a terminal.  A nil w discards everything.
func NewLogger(verbosity int, w io.Writer) *zerolog.Logger {
	if w == nil {
		nop := zerolog.Nop()
		return &nop
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05.000",
		NoColor:    !IsTerminal(w),
	}
	logger := zerolog.New(output).Level(LevelFor(verbosity)).With().Timestamp().Logger()
	return &logger
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w any) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// OpenLogFile opens path for appending, creating it when needed.
func OpenLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}
