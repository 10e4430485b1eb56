package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/flowd/internal/events"
)

const maxDetailWidth = 100

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	phaseStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// Message types
type eventMsg events.Event
type tailClosedMsg struct{}

// Model is the bubbletea model for the follow view.
type Model struct {
	path   string
	tailer *Tailer
	spin   spinner.Model

	lines    []string
	count    int
	done     bool
	failed   bool
	quitting bool
}

// NewModel creates a follow model reading from the given tailer.
func NewModel(path string, tailer *Tailer) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		path:   path,
		tailer: tailer,
		spin:   sp,
	}
}

// Init starts the spinner and the event pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, waitForEvent(m.tailer))
}

// waitForEvent returns a command that blocks for the next tailed event.
func waitForEvent(t *Tailer) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-t.Events()
		if !ok {
			return tailClosedMsg{}
		}
		return eventMsg(e)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case eventMsg:
		e := events.Event(msg)
		m.lines = append(m.lines, renderEvent(e))
		m.count++
		if e.Kind.IsTerminal() {
			m.done = true
			m.failed = e.Error != ""
			return m, tea.Quit
		}
		return m, waitForEvent(m.tailer)

	case tailClosedMsg:
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the follow screen.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(" flowd follow "))
	b.WriteString(" ")
	b.WriteString(dimStyle.Render(m.path))
	b.WriteString("\n\n")

	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}

	switch {
	case m.done && m.failed:
		b.WriteString(errorStyle.Render("✗ run failed"))
		b.WriteString("\n")
	case m.done:
		b.WriteString(healthyStyle.Render("✓ run complete"))
		b.WriteString("\n")
	case m.quitting:
		// Nothing more to say
	default:
		b.WriteString(m.spin.View())
		b.WriteString(dimStyle.Render(fmt.Sprintf(" live, %d events", m.count)))
		b.WriteString("\n")
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit")
	b.WriteString(footer)
	b.WriteString("\n")
	return b.String()
}

// renderEvent formats one event as a styled line.
func renderEvent(e events.Event) string {
	switch e.Kind {
	case events.KindPhaseStarted:
		return phaseStyle.Render("▶ "+e.Phase) + dimStyle.Render(" started")
	case events.KindPhaseMessage:
		return dimStyle.Render("  "+truncate(e.Content, maxDetailWidth))
	case events.KindToolRequested:
		return labelStyle.Render("  → "+e.ActionName) + dimStyle.Render(argsSummary(e.ActionArgs))
	case events.KindToolResult:
		return dimStyle.Render("  ← " + truncate(e.Content, maxDetailWidth))
	case events.KindPhaseDone:
		return healthyStyle.Render("✓ "+e.Phase) + dimStyle.Render(" done")
	case events.KindPhaseFailed:
		return errorStyle.Render("✗ "+e.Phase+" failed") + dimStyle.Render(" "+e.Error)
	case events.KindRevisionRequested:
		return warningStyle.Render("↻ revision requested") + dimStyle.Render(" "+truncate(e.Content, maxDetailWidth))
	case events.KindWorkflowDone:
		if e.Error != "" {
			return errorStyle.Render("■ workflow failed") + dimStyle.Render(" "+e.Error)
		}
		return healthyStyle.Render("■ workflow done")
	default:
		return dimStyle.Render(string(e.Kind))
	}
}

// argsSummary pulls the most recognizable argument into the line.
func argsSummary(args map[string]any) string {
	if args == nil {
		return ""
	}
	if path, ok := args["path"].(string); ok && path != "" {
		return " " + path
	}
	if verdict, ok := args["verdict"].(string); ok && verdict != "" {
		return " verdict=" + verdict
	}
	return ""
}

// truncate trims s to at most width runes, marking the cut.
func truncate(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-1]) + "…"
}

// Run tails the event log at path in an interactive follow screen. It
// returns when the run emits its terminal event, the user quits, or ctx is
// cancelled.
func Run(ctx context.Context, path string) error {
	tailer, err := NewTailer(path)
	if err != nil {
		return err
	}
	defer tailer.Stop()
	if err := tailer.Start(ctx); err != nil {
		return err
	}

	prog := tea.NewProgram(NewModel(path, tailer), tea.WithContext(ctx))
	if _, err := prog.Run(); err != nil {
		return fmt.Errorf("follow view: %w", err)
	}
	return nil
}

// Follow is the plain fallback: it prints one line per event to w until
// the terminal event arrives or ctx is cancelled. Used for --no-tui and
// non-terminal output.
func Follow(ctx context.Context, path string, w io.Writer) error {
	tailer, err := NewTailer(path)
	if err != nil {
		return err
	}
	defer tailer.Stop()
	if err := tailer.Start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-tailer.Events():
			if !ok {
				return nil
			}
			fmt.Fprintln(w, PlainEvent(e))
			if e.Kind.IsTerminal() {
				return nil
			}
		}
	}
}

// PlainEvent formats one event as an unstyled line.
func PlainEvent(e events.Event) string {
	ts := e.Time.Format("15:04:05")
	switch e.Kind {
	case events.KindPhaseStarted:
		return fmt.Sprintf("%s %-18s %s", ts, e.Kind, e.Phase)
	case events.KindPhaseMessage:
		return fmt.Sprintf("%s %-18s %s", ts, e.Kind, truncate(e.Content, maxDetailWidth))
	case events.KindToolRequested:
		return fmt.Sprintf("%s %-18s %s%s", ts, e.Kind, e.ActionName, argsSummary(e.ActionArgs))
	case events.KindToolResult:
		return fmt.Sprintf("%s %-18s %s", ts, e.Kind, truncate(e.Content, maxDetailWidth))
	case events.KindPhaseDone:
		return fmt.Sprintf("%s %-18s %s", ts, e.Kind, e.Phase)
	case events.KindPhaseFailed:
		return fmt.Sprintf("%s %-18s %s: %s", ts, e.Kind, e.Phase, e.Error)
	case events.KindRevisionRequested:
		return fmt.Sprintf("%s %-18s %s", ts, e.Kind, truncate(e.Content, maxDetailWidth))
	case events.KindWorkflowDone:
		if e.Error != "" {
			return fmt.Sprintf("%s %-18s error: %s", ts, e.Kind, e.Error)
		}
		return fmt.Sprintf("%s %-18s", ts, e.Kind)
	default:
		return fmt.Sprintf("%s %-18s", ts, e.Kind)
	}
}
