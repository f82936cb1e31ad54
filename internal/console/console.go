// Package console is the user-facing side of relaychat: where system
// messages and chat lines are shown, and where typed commands are routed.
//
// Two implementations share one command [Table]: [Plain] reads lines from
// any io.Reader and suits pipes and scripts, [TUI] is a full-screen
// bubbletea program for interactive terminals.
package console

import (
	"context"

	"relaychat/internal/session"
)

// Sink receives output from the engines.
type Sink interface {
	// Log shows a system message, prefixed with "LOG: ".
	Log(msg string)
	// Print shows a chat line verbatim.
	Print(line string)
	// UpdatePrompt replaces the input prompt.
	UpdatePrompt(prompt string)
	// PrepareClose shows msg and ends the console after the next key (or
	// immediately when there is no interactive user).
	PrepareClose(msg string)
}

// Handler runs one command.  args[0] is the command name itself.
type Handler func(args []string) error

// Registrar accepts command and chat handlers.
type Registrar interface {
	RegisterCommand(name string, h Handler)
	SetMessageHandler(fn func(text string))
}

// Console is a Sink that also owns user input.
type Console interface {
	Sink
	Registrar
	// Run reads input until the user quits, PrepareClose completes, or
	// ctx is cancelled.
	Run(ctx context.Context) error
	// Quit ends Run from a command handler.
	Quit()
}

// LogPrefix marks system lines.
const LogPrefix = "LOG: "

// DefaultPrompt is shown before the server has told us who we are.
const DefaultPrompt = "<Client> "

// Prompt renders "<nick@channel> " for s, or "<nick> " outside a
// channel.
func Prompt(s *session.Session) string {
	if s == nil {
		return DefaultPrompt
	}
	snap := s.Snapshot()
	if snap.Nickname == "" {
		return DefaultPrompt
	}
	if snap.Channel == "" {
		return "<" + snap.Nickname + "> "
	}
	return "<" + snap.Nickname + "@" + snap.Channel + "> "
}
