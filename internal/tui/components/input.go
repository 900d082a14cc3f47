package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/serial-session/internal/tui/colors"
	"github.com/allbin/serial-session/internal/tui/styles"
)

type SendingMode int

const (
	SendingModeASCII SendingMode = iota
	SendingModeHex
)

func (s SendingMode) String() string {
	if s == SendingModeHex {
		return "HEX"
	}
	return "ASCII"
}

const (
	asciiPlaceholder = "Type message and press Enter to send..."
	hexPlaceholder   = "Enter hex (e.g. 48656C6C6F or 48 65 6C 6C 6F)..."
	historyLimit     = 100
)

// history is a shell-style command history with a saved draft
type history struct {
	entries []string
	index   int // -1 when not browsing
	draft   string
}

func (h *history) add(line string) {
	h.index = -1
	h.draft = ""
	if line == "" || (len(h.entries) > 0 && h.entries[len(h.entries)-1] == line) {
		return
	}
	h.entries = append(h.entries, line)
	if len(h.entries) > historyLimit {
		h.entries = h.entries[1:]
	}
}

func (h *history) prev(current string) (string, bool) {
	if len(h.entries) == 0 {
		return "", false
	}
	switch {
	case h.index == -1:
		h.draft = current
		h.index = len(h.entries) - 1
	case h.index > 0:
		h.index--
	}
	return h.entries[h.index], true
}

func (h *history) next() (string, bool) {
	if h.index == -1 {
		return "", false
	}
	if h.index < len(h.entries)-1 {
		h.index++
		return h.entries[h.index], true
	}
	h.index = -1
	draft := h.draft
	h.draft = ""
	return draft, true
}

// Input is the line editor below the terminal
type Input struct {
	textInput   textinput.Model
	sendingMode SendingMode
	newline     bool
	history     history
	width       int
}

func NewInput() *Input {
	ti := textinput.New()
	ti.Placeholder = asciiPlaceholder
	ti.CharLimit = 256
	ti.Prompt = ""

	return &Input{
		textInput:   ti,
		sendingMode: SendingModeASCII,
		newline:     true,
		history:     history{index: -1},
	}
}

func (i *Input) SetWidth(width int) {
	i.width = width
	// border(2) + padding(2) + prompt(1) + space(1)
	i.textInput.Width = max(width-6, 20)
}

func (i *Input) Focus() tea.Cmd {
	return i.textInput.Focus()
}

func (i *Input) Blur() {
	i.textInput.Blur()
}

func (i *Input) Value() string {
	return i.textInput.Value()
}

func (i *Input) SetValue(value string) {
	i.textInput.SetValue(value)
}

func (i *Input) SendingMode() SendingMode {
	return i.sendingMode
}

func (i *Input) ToggleSendingMode() {
	if i.sendingMode == SendingModeASCII {
		i.sendingMode = SendingModeHex
		i.textInput.Placeholder = hexPlaceholder
		return
	}
	i.sendingMode = SendingModeASCII
	i.textInput.Placeholder = asciiPlaceholder
}

// Newline reports whether ASCII lines are sent with a trailing "\n"
func (i *Input) Newline() bool {
	return i.newline
}

func (i *Input) ToggleNewline() {
	i.newline = !i.newline
}

// Payload returns the bytes to send for the current line.
// Hex mode sends the decoded bytes as-is.
func (i *Input) Payload() ([]byte, error) {
	line := i.textInput.Value()
	if i.sendingMode == SendingModeHex {
		return ParseHex(line)
	}
	if line == "" {
		return nil, ErrEmptyInput
	}
	if i.newline {
		line += "\n"
	}
	return []byte(line), nil
}

// Commit records the current line in history and clears the field
func (i *Input) Commit() {
	i.history.add(strings.TrimSpace(i.textInput.Value()))
	i.textInput.SetValue("")
}

func (i *Input) HistoryUp() {
	if line, ok := i.history.prev(i.textInput.Value()); ok {
		i.textInput.SetValue(line)
	}
}

func (i *Input) HistoryDown() {
	if line, ok := i.history.next(); ok {
		i.textInput.SetValue(line)
	}
}

func (i *Input) Update(msg tea.Msg) (*Input, tea.Cmd) {
	var cmd tea.Cmd
	i.textInput, cmd = i.textInput.Update(msg)
	return i, cmd
}

func (i *Input) View(insert bool) string {
	symbol, symbolColor := ">", colors.Green
	if i.sendingMode == SendingModeHex {
		symbol, symbolColor = "#", colors.Yellow
	}
	prompt := lipgloss.NewStyle().Foreground(symbolColor).Bold(true).Render(symbol)

	content := i.textInput.View()
	if !insert {
		content = lipgloss.NewStyle().
			Foreground(colors.Overlay0).
			Render("Press 'i' to enter insert mode")
	}

	// RoundedBorder and Padding(0, 1) take four columns
	style := styles.InputStyle.
		Width(max(i.width-4, 10)).
		AlignHorizontal(lipgloss.Left)
	if insert {
		style = style.BorderForeground(colors.Green)
	}

	return style.Render(lipgloss.JoinHorizontal(lipgloss.Left, prompt, " ", content))
}
