// Package core is the orchestration layer.  It composes the server or
// client engine with a console into a complete operational mode, and
// provides a builder that selects the mode and wires it from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  session  →  server / client  →  core  →  cmd (CLI)
package core

import (
	"context"
	"io"
	"os"

	"relaychat/internal/console"
	"relaychat/util"
)

// Mode represents a complete operational mode of relaychat (serve or
// connect).  Each mode owns its full lifecycle from startup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}

// Kind selects the mode Build produces.
type Kind int

const (
	KindServe Kind = iota
	KindConnect
)

func (k Kind) String() string {
	if k == KindConnect {
		return "connect"
	}
	return "serve"
}

// Interactive reports whether the full-screen console will be used for
// the given streams.
func Interactive(plain bool, in io.Reader, out io.Writer) bool {
	return !plain && util.IsTerminal(in) && util.IsTerminal(out)
}

// stdio holds the console streams shared by both modes.  Nil fields fall
// back to os.Stdin and os.Stdout so tests can inject their own.
type stdio struct {
	Stdin  io.Reader
	Stdout io.Writer
}

func (s stdio) in() io.Reader {
	if s.Stdin != nil {
		return s.Stdin
	}
	return os.Stdin
}

func (s stdio) out() io.Writer {
	if s.Stdout != nil {
		return s.Stdout
	}
	return os.Stdout
}

// newConsole picks the TUI for terminals and the line console otherwise.
func newConsole(plain bool, s stdio) (console.Console, bool) {
	in, out := s.in(), s.out()
	if Interactive(plain, in, out) {
		return console.NewTUI(in, out), true
	}
	return console.NewPlain(in, out), false
}
