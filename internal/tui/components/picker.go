package components

import (
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/evertras/bubble-table/table"

	serial "github.com/allbin/serial-session"
	"github.com/allbin/serial-session/internal/tui/colors"
	"github.com/allbin/serial-session/internal/tui/keys"
	"github.com/allbin/serial-session/internal/tui/styles"
)

const (
	columnPath        = "path"
	columnID          = "id"
	columnSerial      = "serial"
	columnDescription = "description"
	columnIndex       = "index"
)

// Picker asks the user which candidate port to use
type Picker struct {
	title  string
	ports  []serial.PortInfo
	table  table.Model
	keys   keys.PickerKeys
	help   help.Model
	chosen int // -1 until a row is selected
	done   bool
}

func NewPicker(title string, ports []serial.PortInfo) *Picker {
	columns := []table.Column{
		table.NewColumn(columnPath, "Port", 16),
		table.NewColumn(columnID, "VID:PID", 11),
		table.NewColumn(columnSerial, "Serial", 14),
		table.NewColumn(columnDescription, "Description", 32),
	}

	rows := make([]table.Row, len(ports))
	for i, p := range ports {
		id := "-"
		if devID, ok := p.DeviceID(); ok {
			id = devID.String()
		}
		rows[i] = table.NewRow(table.RowData{
			columnIndex:       i,
			columnPath:        p.Path,
			columnID:          id,
			columnSerial:      p.SerialNumber,
			columnDescription: p.Description,
		})
	}

	t := table.New(columns).
		WithRows(rows).
		Focused(true).
		BorderRounded().
		HeaderStyle(lipgloss.NewStyle().Bold(true).Foreground(colors.Text)).
		HighlightStyle(lipgloss.NewStyle().Foreground(colors.Base).Background(colors.Mauve)).
		WithBaseStyle(lipgloss.NewStyle().Foreground(colors.Subtext1).BorderForeground(colors.Surface2))

	return &Picker{
		title:  title,
		ports:  ports,
		table:  t,
		keys:   keys.NewPickerKeys(),
		help:   help.New(),
		chosen: -1,
	}
}

func (p *Picker) Init() tea.Cmd {
	return nil
}

func (p *Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, p.keys.Cancel):
			p.done = true
			return p, tea.Quit
		case key.Matches(msg, p.keys.Select):
			if len(p.ports) > 0 {
				if i, ok := p.table.HighlightedRow().Data[columnIndex].(int); ok {
					p.chosen = i
				}
			}
			p.done = true
			return p, tea.Quit
		}
	}

	var cmd tea.Cmd
	p.table, cmd = p.table.Update(msg)
	return p, cmd
}

func (p *Picker) View() string {
	if p.done {
		return ""
	}
	title := styles.TitleStyle.Render(p.title)
	count := styles.MutedStyle.Render(fmt.Sprintf(" %d matching ports", len(p.ports)))
	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Left, title, count),
		p.table.View(),
		p.help.View(p.keys),
	)
}

// Result returns the selected port, or ErrUserCancelled when the user backed out
func (p *Picker) Result() (serial.PortInfo, error) {
	if p.chosen < 0 || p.chosen >= len(p.ports) {
		return serial.PortInfo{}, serial.ErrUserCancelled
	}
	return p.ports[p.chosen], nil
}
