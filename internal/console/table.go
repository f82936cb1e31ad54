package console

import (
	"sort"
	"strings"
	"sync"
)

// Table maps command names to handlers and routes typed lines.
type Table struct {
	mu        sync.RWMutex
	commands  map[string]Handler
	onMessage func(string)
	sink      Sink
}

// NewTable returns an empty table that reports routing problems to sink.
func NewTable(sink Sink) *Table {
	return &Table{commands: make(map[string]Handler), sink: sink}
}

// RegisterCommand adds or replaces a command.  Names start with '/'.
func (t *Table) RegisterCommand(name string, h Handler) {
	t.mu.Lock()
	t.commands[name] = h
	t.mu.Unlock()
}

// SetMessageHandler sets the receiver of lines that are not commands.
func (t *Table) SetMessageHandler(fn func(string)) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

// Dispatch routes one typed line.  Blank lines are ignored.
func (t *Table) Dispatch(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if !strings.HasPrefix(line, "/") {
		t.mu.RLock()
		fn := t.onMessage
		t.mu.RUnlock()
		if fn != nil {
			fn(line)
		} else if t.sink != nil {
			t.sink.Log("Messaging is not available here")
		}
		return
	}

	args := strings.Fields(line)
	t.mu.RLock()
	h, ok := t.commands[args[0]]
	t.mu.RUnlock()

	switch {
	case ok:
		if err := h(args); err != nil && t.sink != nil {
			t.sink.Log(err.Error())
		}
	case args[0] == "/help":
		if t.sink != nil {
			t.sink.Log("Commands: " + strings.Join(t.Suggest("/"), " "))
		}
	case t.sink != nil:
		t.sink.Log("Unknown command " + args[0] + ", try /help")
	}
}

// Suggest returns the sorted command names starting with prefix.
func (t *Table) Suggest(prefix string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for name := range t.commands {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
