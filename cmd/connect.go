/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	serial "github.com/allbin/serial-session"
	"github.com/allbin/serial-session/internal/tui/components"
	"github.com/allbin/serial-session/internal/tui/keys"
	"github.com/allbin/serial-session/internal/tui/models"
	"github.com/allbin/serial-session/internal/tui/styles"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open an interactive terminal to the configured device",
	Long: `Find the configured device and open a bidirectional terminal to it.

The terminal shows received and sent data with timestamps in hex and ASCII.
Lines typed in insert mode are sent as ASCII (with a trailing newline unless
toggled off with 'n') or, after Tab, as hex bytes. A lost device is reported
in the terminal and 'r' connects again.

Example usage:
  serial connect
  serial connect -d 1a86:7523 --baud 9600
  serial connect --choose`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := loadTarget()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		// the session's own logger would draw over the alt screen
		sessionLogger := logger
		switch cfg.Logging.Output {
		case "", "stderr", "stdout":
			sessionLogger = zap.NewNop()
		}
		opts := []serial.SessionOption{serial.WithLogger(sessionLogger)}

		if choose, _ := cmd.Flags().GetBool("choose"); choose {
			info, err := newSession(nil, serial.WithChooser(models.Chooser{
				Title: fmt.Sprintf("Ports matching %s", t.filter),
			})).Scan(ctx, t.filter)
			if err != nil {
				return err
			}
			opts = append(opts, serial.WithChooser(models.Remembered{Path: info.Path}))
		}

		return runConnectTUI(ctx, t, opts...)
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().BoolP("choose", "c", false, "Pick among all matching ports before connecting")
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// connectModel represents the Bubble Tea model for the connect command
type connectModel struct {
	*models.SerialModel
	terminal  *components.Terminal
	statusBar *components.StatusBar
	input     *components.Input
	help      help.Model
	keys      keys.ConnectKeys
	now       func() time.Time
}

func newConnectModel(session *serial.Session, t target) *connectModel {
	return &connectModel{
		SerialModel: models.NewSerialModel(session, t.filter, t.link),
		terminal:    components.NewTerminal(0, 0),
		statusBar:   components.NewStatusBar(session.DeviceID(), t.link),
		input:       components.NewInput(),
		help:        help.New(),
		keys:        keys.NewConnectKeys(),
		now:         time.Now,
	}
}

func runConnectTUI(ctx context.Context, t target, opts ...serial.SessionOption) error {
	forwarder := models.NewForwarder()
	session := newSession(forwarder, opts...)
	m := newConnectModel(session, t)

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	forwarder.Attach(p)

	_, err := p.Run()
	_ = session.Disconnect()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *connectModel) Init() tea.Cmd {
	return tea.Batch(m.connect(), tick())
}

func (m *connectModel) connect() tea.Cmd {
	m.statusBar.SetState(serial.StateConnecting, nil)
	return m.ConnectCmd()
}

func (m *connectModel) event(format string, args ...any) {
	m.terminal.Append(components.EventEntry(m.now(), format, args...))
}

func (m *connectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// top border, three input lines and the status bar
		m.terminal.SetSize(msg.Width, max(msg.Height-5, 1))
		m.input.SetWidth(msg.Width)
		m.statusBar.SetWidth(msg.Width)
		m.help.Width = msg.Width
		m.SetReady(true)
		return m, nil

	case tickMsg:
		m.statusBar.SetStats(m.Session().Stats())
		return m, tick()

	case models.ConnectedMsg:
		info, _ := m.Session().Port()
		m.statusBar.SetPort(info.Path)
		m.statusBar.SetState(serial.StateConnected, nil)
		m.event("Connected to %s (%s, %s)", info.Path, info.Description, m.Link())
		return m, nil

	case models.ConnectFailedMsg:
		m.statusBar.SetState(serial.StateDisconnected, msg.Err)
		if errors.Is(msg.Err, serial.ErrConnectCancelled) {
			m.event("Connect cancelled")
		} else {
			m.event("Connect failed: %v (press r to retry)", msg.Err)
		}
		return m, nil

	case models.DataMsg:
		m.terminal.Append(components.Entry{
			Timestamp: msg.At,
			Direction: components.DirectionRX,
			Data:      msg.Data,
		})
		return m, nil

	case models.DisconnectedMsg:
		m.statusBar.SetState(serial.StateDisconnected, msg.Err)
		m.statusBar.SetStats(m.Session().Stats())
		if msg.Err != nil {
			m.event("Connection lost: %v (press r to reconnect)", msg.Err)
		} else if !m.IsQuitting() {
			m.event("Disconnected")
		}
		return m, nil

	case models.WriteResultMsg:
		status := components.TxWritten
		if msg.Err != nil {
			status = components.TxFailed
		}
		m.terminal.SetStatus(msg.ID, status, msg.Err)
		return m, nil

	case models.QuitMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, m.QuitCmd()
		}
		if m.IsInInsertMode() {
			return m.updateInsert(msg)
		}
		return m.updateNormal(msg)
	}

	return m, nil
}

func (m *connectModel) updateInsert(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.SetInputMode(models.InputModeNormal)
		m.input.Blur()
		return m, nil
	case key.Matches(msg, m.keys.Enter):
		return m, m.send()
	case key.Matches(msg, m.keys.ToggleSendMode):
		m.input.ToggleSendingMode()
		return m, nil
	case msg.Type == tea.KeyUp:
		m.input.HistoryUp()
		return m, nil
	case msg.Type == tea.KeyDown:
		m.input.HistoryDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// send queues the current input as a pending TX entry and writes it in the background
func (m *connectModel) send() tea.Cmd {
	payload, err := m.input.Payload()
	switch {
	case errors.Is(err, components.ErrEmptyInput):
		return nil
	case err != nil:
		m.event("Invalid input: %v", err)
		return nil
	case !m.Session().IsConnected():
		m.event("Not connected, press Esc then r to reconnect")
		return nil
	}

	id := m.terminal.Append(components.Entry{
		Timestamp: m.now(),
		Direction: components.DirectionTX,
		Data:      payload,
		Status:    components.TxPending,
	})
	m.input.Commit()
	return m.WriteCmd(id, payload)
}

func (m *connectModel) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, m.QuitCmd()
	case key.Matches(msg, m.keys.InsertMode):
		m.SetInputMode(models.InputModeInsert)
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Clear):
		m.terminal.Clear()
	case key.Matches(msg, m.keys.ToggleHex):
		m.terminal.ToggleHex()
	case key.Matches(msg, m.keys.ToggleASCII):
		m.terminal.ToggleASCII()
	case key.Matches(msg, m.keys.ToggleSendMode):
		m.input.ToggleSendingMode()
	case key.Matches(msg, m.keys.ToggleNewline):
		m.input.ToggleNewline()
	case key.Matches(msg, m.keys.Up):
		m.terminal.ScrollUp()
	case key.Matches(msg, m.keys.Down):
		m.terminal.ScrollDown()
	case key.Matches(msg, m.keys.GotoTop):
		m.terminal.GotoTop()
	case key.Matches(msg, m.keys.GotoBottom):
		m.terminal.GotoBottom()
	case key.Matches(msg, m.keys.Disconnect):
		return m, m.DisconnectCmd()
	case key.Matches(msg, m.keys.Reconnect):
		switch m.Session().State() {
		case serial.StateConnecting:
			return m, nil
		case serial.StateConnected:
			return m, tea.Sequence(m.DisconnectCmd(), m.connect())
		default:
			return m, m.connect()
		}
	}
	return m, nil
}

func (m *connectModel) View() string {
	if !m.IsReady() {
		return "Initializing..."
	}

	content := m.terminal.View()
	if m.help.ShowAll {
		content = lipgloss.Place(m.terminal.Width(), lipgloss.Height(content),
			lipgloss.Left, lipgloss.Top, m.help.View(m.keys))
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		styles.ContentBorderStyle.Render(content),
		m.input.View(m.IsInInsertMode()),
		m.statusBar.View(m.IsInInsertMode(), m.input.SendingMode(), m.input.Newline(), m.now()),
	)
}
