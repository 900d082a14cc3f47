package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
)

// DefaultScrollback bounds how many entries the terminal keeps
const DefaultScrollback = 5000

// Terminal is a scrolling view of session traffic. Entries stay raw so the
// display mode can be changed after the fact.
type Terminal struct {
	viewport   viewport.Model
	formatter  *DataFormatter
	entries    []Entry
	scrollback int
	nextID     int
}

func NewTerminal(width, height int) *Terminal {
	return &Terminal{
		viewport:   viewport.New(width, height),
		formatter:  NewDataFormatter(true, true),
		scrollback: DefaultScrollback,
	}
}

func (t *Terminal) SetSize(width, height int) {
	t.viewport.Width = width
	t.viewport.Height = height
	t.render()
}

func (t *Terminal) Width() int {
	return t.viewport.Width
}

// Append adds an entry and returns the id used to update it later
func (t *Terminal) Append(e Entry) int {
	t.nextID++
	e.ID = t.nextID
	t.entries = append(t.entries, e)
	if over := len(t.entries) - t.scrollback; over > 0 {
		t.entries = append(t.entries[:0:0], t.entries[over:]...)
	}
	t.render()
	return e.ID
}

// SetStatus updates an outbound entry once its write finished
func (t *Terminal) SetStatus(id int, status TxStatus, err error) bool {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].ID == id {
			t.entries[i].Status = status
			t.entries[i].Err = err
			t.render()
			return true
		}
	}
	return false
}

func (t *Terminal) Entries() []Entry {
	return t.entries
}

func (t *Terminal) Clear() {
	t.entries = nil
	t.render()
}

func (t *Terminal) ToggleHex() {
	t.formatter.ToggleHex()
	t.render()
}

func (t *Terminal) ToggleASCII() {
	t.formatter.ToggleASCII()
	t.render()
}

func (t *Terminal) DisplayMode() DisplayMode {
	return t.formatter.DisplayMode()
}

func (t *Terminal) ScrollUp() { t.viewport.LineUp(1) }
func (t *Terminal) ScrollDown() { t.viewport.LineDown(1) }
func (t *Terminal) GotoTop() { t.viewport.GotoTop() }
func (t *Terminal) GotoBottom() { t.viewport.GotoBottom() }
func (t *Terminal) AtBottom() bool { return t.viewport.AtBottom() }

// render keeps following the tail unless the user scrolled away from it
func (t *Terminal) render() {
	follow := t.viewport.AtBottom()
	t.viewport.SetContent(strings.Join(t.formatter.FormatEntries(t.entries), "\n"))
	if follow {
		t.viewport.GotoBottom()
	}
}

func (t *Terminal) View() string {
	return t.viewport.View()
}
