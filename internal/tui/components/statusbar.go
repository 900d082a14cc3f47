package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	serial "github.com/allbin/serial-session"
	"github.com/allbin/serial-session/internal/tui/colors"
	"github.com/allbin/serial-session/internal/tui/styles"
)

// StatusBar is the single line under the input, modelled on an editor mode line
type StatusBar struct {
	device   string
	portPath string
	link     serial.LinkConfig
	state    serial.State
	err      error
	stats    serial.Stats
	width    int
}

func NewStatusBar(device string, link serial.LinkConfig) *StatusBar {
	return &StatusBar{
		device: device,
		link:   link,
	}
}

func (sb *StatusBar) SetWidth(width int) {
	sb.width = width
}

// SetState records the session state and the error that ended the last connection, if any
func (sb *StatusBar) SetState(state serial.State, err error) {
	sb.state = state
	sb.err = err
}

func (sb *StatusBar) SetPort(path string) {
	sb.portPath = path
}

func (sb *StatusBar) SetStats(stats serial.Stats) {
	sb.stats = stats
}

func (sb *StatusBar) State() serial.State {
	return sb.state
}

func (sb *StatusBar) Err() error {
	return sb.err
}

// target is the port path once known, the device name before that
func (sb *StatusBar) target() string {
	if sb.portPath != "" {
		return sb.portPath
	}
	return sb.device
}

// Traffic summarises the byte counters, e.g. "rx 1.2 kB tx 12 B"
func (sb *StatusBar) Traffic() string {
	return fmt.Sprintf("rx %s tx %s",
		humanize.Bytes(sb.stats.BytesRead),
		humanize.Bytes(sb.stats.BytesWritten))
}

func (sb *StatusBar) View(insert bool, sendingMode SendingMode, newline bool, now time.Time) string {
	width := sb.width
	if width <= 0 {
		width = 80
	}

	modeText, modeColor := "NORMAL", colors.Blue
	if insert {
		modeText, modeColor = "INSERT", colors.Green
	}
	mode := lipgloss.NewStyle().
		Foreground(colors.Base).
		Background(modeColor).
		Bold(true).
		Padding(0, 1).
		Render(modeText)

	port := lipgloss.NewStyle().
		Foreground(colors.Mauve).
		Bold(true).
		Padding(0, 1).
		Render(sb.target())

	indicator := styles.StateStyle(sb.state).Render(styles.StateSymbol(sb.state, sb.err != nil))

	divider := lipgloss.NewStyle().
		Foreground(colors.Surface2).
		Padding(0, 1).
		Render("│")

	left := []string{mode, port, indicator}
	if insert {
		hint := fmt.Sprintf("[%s] Tab to toggle", sendingMode)
		if sendingMode == SendingModeASCII && newline {
			hint = fmt.Sprintf("[%s+LF] Tab to toggle", sendingMode)
		}
		left = append(left, lipgloss.NewStyle().
			Foreground(colors.Peach).
			Bold(true).
			Padding(0, 1).
			Render(hint))
	}
	if sb.err != nil && sb.state == serial.StateDisconnected {
		left = append(left, lipgloss.NewStyle().
			Foreground(colors.Red).
			Padding(0, 1).
			Render(sb.err.Error()))
	}
	left = append(left, divider)
	leftSide := lipgloss.JoinHorizontal(lipgloss.Left, left...)

	details := lipgloss.NewStyle().
		Foreground(colors.Subtext0).
		Padding(0, 1).
		Render(fmt.Sprintf("⚡ %s %s %s", sb.link, sb.state, sb.Traffic()))
	clock := lipgloss.NewStyle().
		Foreground(colors.Subtext1).
		Padding(0, 1).
		Render(now.Format("15:04:05"))
	rightSide := lipgloss.JoinHorizontal(lipgloss.Left, details, divider, clock)

	spacerWidth := max(width-lipgloss.Width(leftSide)-lipgloss.Width(rightSide), 1)
	spacer := lipgloss.NewStyle().Width(spacerWidth).Render("")

	return lipgloss.NewStyle().
		Foreground(colors.Text).
		Background(colors.Surface0).
		Width(width).
		Render(lipgloss.JoinHorizontal(lipgloss.Left, leftSide, spacer, rightSide))
}
