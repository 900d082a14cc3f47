package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/serial-session/internal/tui/colors"
)

// Direction tells inbound traffic, outbound traffic and session events apart
type Direction int

const (
	DirectionRX Direction = iota
	DirectionTX
	DirectionEvent
)

// TxStatus tracks an outbound entry through Session.Write
type TxStatus int

const (
	TxPending TxStatus = iota
	TxWritten
	TxFailed
)

// Entry is one line in the terminal
type Entry struct {
	ID        int
	Timestamp time.Time
	Direction Direction
	Data      []byte
	Status    TxStatus
	Err       error
}

// EventEntry records a session event such as a connect or a failure
func EventEntry(at time.Time, format string, args ...any) Entry {
	return Entry{
		Timestamp: at,
		Direction: DirectionEvent,
		Data:      []byte(fmt.Sprintf(format, args...)),
	}
}

type DisplayMode struct {
	ShowHex   bool
	ShowASCII bool
}

type DataFormatter struct {
	mode DisplayMode
}

func NewDataFormatter(showHex, showASCII bool) *DataFormatter {
	return &DataFormatter{
		mode: DisplayMode{
			ShowHex:   showHex,
			ShowASCII: showASCII,
		},
	}
}

func (df *DataFormatter) DisplayMode() DisplayMode {
	return df.mode
}

func (df *DataFormatter) ToggleHex() {
	df.mode.ShowHex = !df.mode.ShowHex
}

func (df *DataFormatter) ToggleASCII() {
	df.mode.ShowASCII = !df.mode.ShowASCII
}

// Payload renders data according to the display mode, without styling
func (df *DataFormatter) Payload(data []byte) string {
	var parts []string
	if df.mode.ShowHex {
		parts = append(parts, fmt.Sprintf("HEX: % X", data))
	}
	if df.mode.ShowASCII {
		parts = append(parts, "ASCII: "+printable(data))
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("BYTES: %d", len(data)))
	}
	return strings.Join(parts, "  ")
}

// printable replaces everything outside printable ASCII with a dot,
// so received bytes can never inject terminal control sequences
func printable(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		if c >= 32 && c <= 126 {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

func indicator(e Entry) string {
	style := lipgloss.NewStyle().Bold(true)
	switch e.Direction {
	case DirectionTX:
		switch e.Status {
		case TxPending:
			return style.Foreground(colors.Yellow).Render("↗ TX ○")
		case TxWritten:
			return style.Foreground(colors.Green).Render("↗ TX ✓")
		default:
			return style.Foreground(colors.Red).Render("↗ TX ✗")
		}
	case DirectionEvent:
		return style.Foreground(colors.Event).Render("• --")
	default:
		return style.Foreground(colors.Inbound).Render("↙ RX")
	}
}

func (df *DataFormatter) FormatEntry(e Entry) string {
	timestamp := lipgloss.NewStyle().
		Foreground(colors.Subtext0).
		Render(e.Timestamp.Format("[15:04:05.000]"))

	var body string
	switch {
	case e.Direction == DirectionEvent:
		body = lipgloss.NewStyle().Foreground(colors.Event).Italic(true).Render(printable(e.Data))
	case e.Direction == DirectionTX && e.Err != nil:
		body = df.Payload(e.Data) + "  " + lipgloss.NewStyle().Foreground(colors.Red).Render(e.Err.Error())
	default:
		body = df.Payload(e.Data)
	}
	return fmt.Sprintf("%s %s: %s", timestamp, indicator(e), body)
}

func (df *DataFormatter) FormatEntries(entries []Entry) []string {
	formatted := make([]string, len(entries))
	for i, e := range entries {
		formatted[i] = df.FormatEntry(e)
	}
	return formatted
}
