package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// Plain is a line console over an io.Reader/io.Writer pair.  It never
// draws the prompt; it only records it.
type Plain struct {
	in    io.Reader
	out   io.Writer
	table *Table

	mu     sync.Mutex
	prompt string

	done     chan struct{}
	doneOnce sync.Once
}

// NewPlain creates a line console reading commands from in.
func NewPlain(in io.Reader, out io.Writer) *Plain {
	p := &Plain{in: in, out: out, prompt: DefaultPrompt, done: make(chan struct{})}
	p.table = NewTable(p)
	return p
}

func (p *Plain) Log(msg string) { p.writeln(LogPrefix + msg) }

func (p *Plain) Print(line string) { p.writeln(line) }

func (p *Plain) UpdatePrompt(prompt string) {
	p.mu.Lock()
	p.prompt = prompt
	p.mu.Unlock()
}

// Prompt returns the last prompt set.
func (p *Plain) Prompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prompt
}

// PrepareClose prints msg and makes Run return; there is no key to wait
// for on a plain stream.
func (p *Plain) PrepareClose(msg string) {
	p.Log(msg)
	p.Quit()
}

func (p *Plain) Quit() { p.doneOnce.Do(func() { close(p.done) }) }

func (p *Plain) RegisterCommand(name string, h Handler) { p.table.RegisterCommand(name, h) }

func (p *Plain) SetMessageHandler(fn func(string)) { p.table.SetMessageHandler(fn) }

// Table exposes the command table.
func (p *Plain) Table() *Table { return p.table }

// Run dispatches input lines until EOF, Quit, or ctx is cancelled.
func (p *Plain) Run(ctx context.Context) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(p.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-p.done:
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.done:
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			p.table.Dispatch(line)
		}
	}
}

func (p *Plain) writeln(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}
