package console

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// maxScrollback bounds the lines kept in the content pane.
const maxScrollback = 2000

var (
	logStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	suggestionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	closingStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

// ── Messages ─────────────────────────────────────────────────────────

type lineMsg struct{ text string }

type promptMsg struct{ prompt string }

type closeMsg struct{ text string }

type quitMsg struct{}

// ── Model ────────────────────────────────────────────────────────────

type model struct {
	viewport    viewport.Model
	input       textinput.Model
	lines       []string
	table       *Table
	suggestions string
	closing     bool
}

func newModel(table *Table) model {
	in := textinput.New()
	in.Prompt = DefaultPrompt
	in.Placeholder = "type /help for commands"
	in.CharLimit = 0
	in.Focus()

	return model{
		viewport: viewport.New(80, 20),
		input:    in,
		table:    table,
	}
}

func (m model) Init() tea.Cmd { return textinput.Blink }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-3, 1)
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 10)
		m.viewport.GotoBottom()
		return m, nil

	case lineMsg:
		m.appendLine(msg.text)
		return m, nil

	case promptMsg:
		m.input.Prompt = msg.prompt
		return m, nil

	case closeMsg:
		m.appendLine(closingStyle.Render(msg.text))
		m.closing = true
		m.input.Blur()
		return m, nil

	case quitMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		if m.closing {
			return m, tea.Quit
		}
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			m.suggestions = ""
			if strings.TrimSpace(line) == "" {
				return m, nil
			}
			table := m.table
			return m, func() tea.Msg {
				table.Dispatch(line)
				return nil
			}
		case tea.KeyTab:
			if names := m.completions(); len(names) == 1 {
				m.input.SetValue(names[0] + " ")
				m.input.CursorEnd()
				m.suggestions = ""
			}
			return m, nil
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	m.suggestions = strings.Join(m.completions(), "  ")
	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	return m.viewport.View() + "\n" +
		suggestionStyle.Render(m.suggestions) + "\n" +
		m.input.View()
}

// completions lists commands matching a partially typed command word.
func (m model) completions() []string {
	v := m.input.Value()
	if !strings.HasPrefix(v, "/") || strings.ContainsRune(v, ' ') {
		return nil
	}
	return m.table.Suggest(v)
}

func (m *model) appendLine(s string) {
	m.lines = append(m.lines, s)
	if len(m.lines) > maxScrollback {
		m.lines = m.lines[len(m.lines)-maxScrollback:]
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

// ── TUI ──────────────────────────────────────────────────────────────

// TUI is a full-screen console.  Its Sink methods may be called from any
// goroutine once Run has started.
type TUI struct {
	table   *Table
	in      io.Reader
	out     io.Writer
	program *tea.Program
	ready   chan struct{}
}

// NewTUI creates a full-screen console drawing on out and reading keys
// from in.
func NewTUI(in io.Reader, out io.Writer) *TUI {
	t := &TUI{in: in, out: out, ready: make(chan struct{})}
	t.table = NewTable(t)
	return t
}

func (t *TUI) Log(msg string) { t.send(lineMsg{logStyle.Render(LogPrefix + msg)}) }

func (t *TUI) Print(line string) { t.send(lineMsg{line}) }

func (t *TUI) UpdatePrompt(prompt string) { t.send(promptMsg{prompt}) }

func (t *TUI) PrepareClose(msg string) { t.send(closeMsg{msg}) }

func (t *TUI) Quit() { t.send(quitMsg{}) }

func (t *TUI) RegisterCommand(name string, h Handler) { t.table.RegisterCommand(name, h) }

func (t *TUI) SetMessageHandler(fn func(string)) { t.table.SetMessageHandler(fn) }

// Run draws the interface until the user quits or ctx is cancelled.
func (t *TUI) Run(ctx context.Context) error {
	t.program = tea.NewProgram(newModel(t.table),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithInput(t.in),
		tea.WithOutput(t.out),
	)
	close(t.ready)

	_, err := t.program.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// send blocks until Run has created the program; the program itself
// drops messages once it has exited.
func (t *TUI) send(msg tea.Msg) {
	<-t.ready
	t.program.Send(msg)
}
