// Package ui provides the terminal styling for the lux CLI.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary     = lipgloss.Color("#7E57C2")
	Accent      = lipgloss.Color("#FFCA28")
	MutedColor  = lipgloss.Color("#8A8F98")
	Destructive = lipgloss.Color("#e53935")
	Success     = lipgloss.Color("#8BC34A")
	Warning     = lipgloss.Color("#FFC107")
)

// Styles holds the rendering styles used by the commands.
type Styles struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Body    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Answer  lipgloss.Style
	Prompt  lipgloss.Style
}

// DefaultStyles returns the default style set. NO_COLOR disables colors.
func DefaultStyles() Styles {
	if noColor() {
		plain := lipgloss.NewStyle()
		return Styles{
			Title: plain, Bold: plain, Body: plain, Muted: plain,
			Success: plain, Error: plain, Warning: plain, Answer: plain, Prompt: plain,
		}
	}
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(Primary),
		Bold:    lipgloss.NewStyle().Bold(true),
		Body:    lipgloss.NewStyle(),
		Muted:   lipgloss.NewStyle().Foreground(MutedColor),
		Success: lipgloss.NewStyle().Foreground(Success),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(Destructive),
		Warning: lipgloss.NewStyle().Foreground(Warning),
		Answer: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary).
			Padding(0, 1),
		Prompt: lipgloss.NewStyle().Bold(true).Foreground(Accent),
	}
}

func noColor() bool {
	v, ok := os.LookupEnv("NO_COLOR")
	return ok && strings.TrimSpace(v) != "0"
}

// Status renders an enabled flag.
func (s Styles) Status(enabled bool) string {
	if enabled {
		return s.Success.Render("enabled")
	}
	return s.Warning.Render("disabled")
}
