package styles

import (
	"github.com/charmbracelet/lipgloss"

	serial "github.com/allbin/serial-session"
	"github.com/allbin/serial-session/internal/tui/colors"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Mauve).
			Background(colors.Surface0).
			Padding(0, 1)

	ContentBorderStyle = lipgloss.NewStyle().
				BorderTop(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(colors.Surface1)

	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colors.Surface2).
			Padding(0, 1)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Red)

	InfoStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Mauve)

	SuccessStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.Green)

	MutedStyle = lipgloss.NewStyle().
			Foreground(colors.Subtext0)

	connectedStyle = lipgloss.NewStyle().
			Foreground(colors.Green).
			Bold(true)

	disconnectedStyle = lipgloss.NewStyle().
				Foreground(colors.Red).
				Bold(true)

	connectingStyle = lipgloss.NewStyle().
			Foreground(colors.Yellow).
			Bold(true)
)

// StateStyle colours a session state
func StateStyle(state serial.State) lipgloss.Style {
	switch state {
	case serial.StateConnected:
		return connectedStyle
	case serial.StateConnecting:
		return connectingStyle
	default:
		return disconnectedStyle
	}
}

// StateSymbol is the one-character indicator shown in the status bar
func StateSymbol(state serial.State, failed bool) string {
	switch {
	case failed:
		return "✗"
	case state == serial.StateConnected:
		return "●"
	default:
		return "○"
	}
}
