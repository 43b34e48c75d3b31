package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Styles
var (
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	pathStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("14")).Padding(0, 1)
	optionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("248")).Padding(0, 1)
	deleteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("9")).Padding(0, 1)
)

const txtDuplicate = "Duplicate download"

type keyMap struct {
	Keep    key.Binding
	Delete  key.Binding
	Toggle  key.Binding
	Confirm key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Keep, k.Delete, k.Toggle, k.Confirm, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultKeys = keyMap{
	Keep: key.NewBinding(
		key.WithKeys("k", "n"),
		key.WithHelp("k", "keep"),
	),
	Delete: key.NewBinding(
		key.WithKeys("d", "y"),
		key.WithHelp("d", "delete"),
	),
	Toggle: key.NewBinding(
		key.WithKeys("left", "right", "tab", "h", "l"),
		key.WithHelp("←/→", "switch"),
	),
	Confirm: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "confirm"),
	),
	Quit: key.NewBinding(
		key.WithKeys("esc", "ctrl+c", "q"),
		key.WithHelp("esc", "keep & close"),
	),
}

type promptModel struct {
	newPath      string
	existingPath string

	choice    Decision
	confirmed bool

	keys keyMap
	help help.Model
}

func newPromptModel(newPath, existingPath string) promptModel {
	return promptModel{
		newPath:      newPath,
		existingPath: existingPath,
		choice:       Keep,
		keys:         defaultKeys,
		help:         help.New(),
	}
}

func (m promptModel) Init() tea.Cmd {
	return nil
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Keep):
			m.choice = Keep
			m.confirmed = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Delete):
			m.choice = Delete
			m.confirmed = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Toggle):
			if m.choice == Keep {
				m.choice = Delete
			} else {
				m.choice = Keep
			}
		case key.Matches(msg, m.keys.Confirm):
			m.confirmed = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Quit):
			m.choice = Keep
			m.confirmed = false
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
	}
	return m, nil
}

// decision is Keep unless the user confirmed something else.
func (m promptModel) decision() Decision {
	if !m.confirmed {
		return Keep
	}
	return m.choice
}

func (m promptModel) View() string {
	if m.confirmed {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(txtDuplicate))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("%s%s\n", labelStyle.Render("New       "), pathStyle.Render(m.newPath)))
	b.WriteString(fmt.Sprintf("%s%s\n", labelStyle.Render("Existing  "), pathStyle.Render(m.existingPath)))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Delete %s?  ", filepath.Base(m.newPath)))

	keep, del := optionStyle.Render("Keep"), optionStyle.Render("Delete")
	if m.choice == Keep {
		keep = selectedStyle.Render("Keep")
	} else {
		del = deleteStyle.Render("Delete")
	}
	b.WriteString(keep + " " + del)
	b.WriteString("\n\n")
	b.WriteString(m.help.View(m.keys))
	b.WriteString("\n")
	return b.String()
}

// Prompt asks on the terminal. Only one dialog is shown at a time; concurrent
// callers wait their turn.
type Prompt struct {
	mu  sync.Mutex
	in  io.Reader
	out io.Writer
}

var _ ConflictResolver = (*Prompt)(nil)

func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: in, out: out}
}

// Resolve shows the dialog. A cancelled context, or closing the dialog
// without a choice, keeps the file.
func (p *Prompt) Resolve(ctx context.Context, newPath, existingPath string) (Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ctx.Err() != nil {
		return Keep, nil
	}

	program := tea.NewProgram(
		newPromptModel(newPath, existingPath),
		tea.WithContext(ctx),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
	)

	final, err := program.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) || ctx.Err() != nil {
			slog.Info("conflict prompt cancelled", "path", newPath)
			return Keep, nil
		}
		return Keep, fmt.Errorf("conflict prompt: %w", err)
	}

	if m, ok := final.(promptModel); ok {
		return m.decision(), nil
	}
	return Keep, nil
}
