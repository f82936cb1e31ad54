package console

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"relaychat/internal/session"
)

// recorder is a Sink that keeps everything it is given.
type recorder struct {
	logs    []string
	prints  []string
	prompts []string
	closed  []string
}

func (r *recorder) Log(msg string)             { r.logs = append(r.logs, msg) }
func (r *recorder) Print(line string)          { r.prints = append(r.prints, line) }
func (r *recorder) UpdatePrompt(prompt string) { r.prompts = append(r.prompts, prompt) }
func (r *recorder) PrepareClose(msg string)    { r.closed = append(r.closed, msg) }

func TestTable_Dispatch(t *testing.T) {
	rec := &recorder{}
	tbl := NewTable(rec)

	var gotArgs []string
	tbl.RegisterCommand("/join", func(args []string) error {
		gotArgs = args
		return nil
	})
	tbl.RegisterCommand("/fail", func([]string) error { return errors.New("boom") })
	var messages []string
	tbl.SetMessageHandler(func(s string) { messages = append(messages, s) })

	tbl.Dispatch("  /join   lobby  ")
	tbl.Dispatch("hello there")
	tbl.Dispatch("")
	tbl.Dispatch("/nope")
	tbl.Dispatch("/fail")

	if !reflect.DeepEqual(gotArgs, []string{"/join", "lobby"}) {
		t.Errorf("handler args = %q", gotArgs)
	}
	if !reflect.DeepEqual(messages, []string{"hello there"}) {
		t.Errorf("messages = %q", messages)
	}
	if len(rec.logs) != 2 || !strings.Contains(rec.logs[0], "/nope") || rec.logs[1] != "boom" {
		t.Errorf("logs = %q", rec.logs)
	}
}

func TestTable_Help(t *testing.T) {
	rec := &recorder{}
	tbl := NewTable(rec)
	tbl.RegisterCommand("/quit", func([]string) error { return nil })
	tbl.RegisterCommand("/join", func([]string) error { return nil })

	tbl.Dispatch("/help")
	if len(rec.logs) != 1 || rec.logs[0] != "Commands: /join /quit" {
		t.Errorf("logs = %q", rec.logs)
	}
}

func TestTable_Suggest(t *testing.T) {
	tbl := NewTable(nil)
	for _, n := range []string{"/mute", "/m", "/join", "/unmute"} {
		tbl.RegisterCommand(n, func([]string) error { return nil })
	}
	tests := []struct {
		prefix string
		want   []string
	}{
		{"/m", []string{"/m", "/mute"}},
		{"/j", []string{"/join"}},
		{"/x", nil},
	}
	for _, tt := range tests {
		if got := tbl.Suggest(tt.prefix); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Suggest(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestTable_NoMessageHandler(t *testing.T) {
	rec := &recorder{}
	NewTable(rec).Dispatch("hi")
	if len(rec.logs) != 1 {
		t.Errorf("expected a hint when messaging is unavailable, got %q", rec.logs)
	}
}

func TestPrompt(t *testing.T) {
	if got := Prompt(nil); got != DefaultPrompt {
		t.Errorf("Prompt(nil) = %q", got)
	}
	s := session.New(nil, session.RoleLocal, "")
	if got := Prompt(s); got != DefaultPrompt {
		t.Errorf("unnamed prompt = %q", got)
	}
	s.SetNickname("User1")
	if got := Prompt(s); got != "<User1> " {
		t.Errorf("prompt = %q", got)
	}
	s.Enter("lobby", true)
	if got := Prompt(s); got != "<User1@lobby> " {
		t.Errorf("prompt = %q", got)
	}
}
