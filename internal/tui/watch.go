// Package tui implements the live pending-request watcher, built on
// Bubble Tea and Lip Gloss.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stepgate/stepgate/internal/server"
	"github.com/stepgate/stepgate/internal/utils"
)

// Source is the daemon surface the watcher needs.
type Source interface {
	Pending(ctx context.Context) (*server.PendingResult, error)
	Cancel(ctx context.Context, requestID string) (*server.CancelResult, error)
	DaemonStatus(ctx context.Context) (*server.DaemonStatusResult, error)
}

const pollInterval = time.Second

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#1e66f5", Dark: "#89b4fa"})

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#40a02b", Dark: "#a6e3a1"})

	faintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#6c6f85", Dark: "#a6adc8"})

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#d20f39", Dark: "#f38ba8"})
)

type tickMsg time.Time

type refreshMsg struct {
	requests []server.StatusResult
	status   *server.DaemonStatusResult
	err      error
}

type cancelDoneMsg struct {
	requestID string
	err       error
}

// Model is the watcher state.
type Model struct {
	source   Source
	requests []server.StatusResult
	status   *server.DaemonStatusResult
	selected int
	err      error
	width    int
	ready    bool
	now      time.Time
}

// NewModel creates a watcher over the given daemon source.
func NewModel(source Source) Model {
	return Model{source: source, now: time.Now()}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(refresh(m.source), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func refresh(source Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		pending, err := source.Pending(ctx)
		if err != nil {
			return refreshMsg{err: err}
		}
		status, err := source.DaemonStatus(ctx)
		if err != nil {
			return refreshMsg{err: err}
		}
		return refreshMsg{requests: pending.Requests, status: status}
	}
}

func cancelRequest(source Source, requestID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, err := source.Cancel(ctx, requestID)
		return cancelDoneMsg{requestID: requestID, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.ready = true

	case tickMsg:
		m.now = time.Time(msg)
		return m, tea.Batch(refresh(m.source), tick())

	case refreshMsg:
		m.err = msg.err
		if msg.err == nil {
			m.requests = msg.requests
			m.status = msg.status
			if m.selected >= len(m.requests) {
				m.selected = len(m.requests) - 1
			}
			if m.selected < 0 {
				m.selected = 0
			}
		}

	case cancelDoneMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		return m, refresh(m.source)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.requests)-1 {
				m.selected++
			}
		case "c":
			if m.selected < len(m.requests) {
				return m, cancelRequest(m.source, m.requests[m.selected].RequestID)
			}
		case "r":
			return m, refresh(m.source)
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("stepgate watch"))
	if m.status != nil {
		b.WriteString(faintStyle.Render(fmt.Sprintf("  %d pending, up %s",
			m.status.PendingCount, (time.Duration(m.status.UptimeSeconds)*time.Second).String())))
	}
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errStyle.Render("daemon error: " + m.err.Error()))
		b.WriteString("\n\n")
	}

	if len(m.requests) == 0 {
		b.WriteString(faintStyle.Render("no pending verification requests"))
		b.WriteString("\n")
	}

	for i, r := range m.requests {
		marker := "  "
		line := fmt.Sprintf("%-10s %-8s %4ds  %s",
			shortID(r.RequestID), r.Status, remainingSeconds(r.ExpiresAt, m.now),
			utils.Truncate(utils.SanitizeCommand(r.Command), 60))
		if i == m.selected {
			marker = "> "
			line = selectedStyle.Render(line)
		}
		b.WriteString(marker + line + "\n")
	}

	b.WriteString("\n")
	b.WriteString(faintStyle.Render("↑/↓ select · c cancel · r refresh · q quit"))
	b.WriteString("\n")
	return b.String()
}

func remainingSeconds(expiresAt, now time.Time) int {
	remaining := int(expiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// Run starts the watcher in the alternate screen.
func Run(source Source) error {
	p := tea.NewProgram(NewModel(source), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
