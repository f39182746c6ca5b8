// Package prompt renders the human-facing verification challenge.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/stepgate/stepgate/internal/utils"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#d20f39", Dark: "#f38ba8"})

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#40a02b", Dark: "#a6e3a1"})

	urlStyle = lipgloss.NewStyle().
			Underline(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#1e66f5", Dark: "#89b4fa"})

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#6c6f85", Dark: "#a6adc8"})

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#9ca0b0", Dark: "#6c7086"}).
			Padding(1, 2)
)

// Challenge is everything the user needs to complete a verification.
type Challenge struct {
	RequestID   string
	Command     string
	PatternID   string
	Description string
	Severity    string
	URL         string
	ExpiresAt   time.Time
	// MockCode is shown only in mock mode.
	MockCode string
}

// Render produces the styled challenge box.
func Render(c Challenge) string {
	var lines []string

	lines = append(lines, titleStyle.Render("⚠ High-risk command detected"))
	if c.Description != "" {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("%s (%s, %s)", c.Description, c.PatternID, c.Severity)))
	}
	lines = append(lines, "")
	lines = append(lines, commandStyle.Render(utils.SanitizeCommand(c.Command)))
	lines = append(lines, "")
	lines = append(lines, "Complete the verification to continue:")
	lines = append(lines, "  "+urlStyle.Render(c.URL))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("Request ID: %s", c.RequestID))
	lines = append(lines, dimStyle.Render(fmt.Sprintf("Expires in %s. Unverified commands are not run.", RemainingText(c.ExpiresAt, time.Now()))))

	if c.MockCode != "" {
		lines = append(lines, "")
		lines = append(lines, dimStyle.Render(fmt.Sprintf("mock mode: code is %s", c.MockCode)))
	}

	return boxStyle.Render(strings.Join(lines, "\n"))
}

// RenderOutcome produces a one-line result message for a resolved request.
func RenderOutcome(verified bool, status, command string) string {
	command = utils.SanitizeCommand(command)
	if verified {
		return commandStyle.Render("✓ verified") + " " + command
	}
	return titleStyle.Render("✗ "+status) + " " + dimStyle.Render(command)
}

// RemainingText formats the time left before the deadline, rounded up to
// whole seconds or minutes.
func RemainingText(expiresAt, now time.Time) string {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return "0 seconds"
	}
	if remaining < time.Minute {
		secs := int((remaining + time.Second - 1) / time.Second)
		if secs == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	}
	mins := int((remaining + time.Minute - 1) / time.Minute)
	if mins == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", mins)
}
