package models

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	serial "github.com/allbin/serial-session"
)

// InputMode represents the current input mode (vim-like)
type InputMode int

const (
	InputModeNormal InputMode = iota
	InputModeInsert
)

func (m InputMode) String() string {
	if m == InputModeInsert {
		return "INSERT"
	}
	return "NORMAL"
}

// SerialModel is the session state shared by interactive commands.
// Every blocking session call is issued as a tea.Cmd so the event loop keeps
// draining the messages the session's callbacks send.
type SerialModel struct {
	session   *serial.Session
	filter    serial.DeviceFilter
	link      serial.LinkConfig
	inputMode InputMode
	ready     bool
	quitting  bool
}

func NewSerialModel(session *serial.Session, filter serial.DeviceFilter, link serial.LinkConfig) *SerialModel {
	return &SerialModel{
		session: session,
		filter:  filter,
		link:    link,
	}
}

func (m *SerialModel) Session() *serial.Session {
	return m.session
}

func (m *SerialModel) Link() serial.LinkConfig {
	return m.link
}

func (m *SerialModel) IsReady() bool {
	return m.ready
}

func (m *SerialModel) SetReady(ready bool) {
	m.ready = ready
}

func (m *SerialModel) InputMode() InputMode {
	return m.inputMode
}

func (m *SerialModel) SetInputMode(mode InputMode) {
	m.inputMode = mode
}

func (m *SerialModel) IsInInsertMode() bool {
	return m.inputMode == InputModeInsert
}

func (m *SerialModel) IsQuitting() bool {
	return m.quitting
}

// ConnectCmd scans and connects. Success arrives as ConnectedMsg from the controller.
func (m *SerialModel) ConnectCmd() tea.Cmd {
	return func() tea.Msg {
		if err := m.session.Connect(context.Background(), m.filter, m.link); err != nil {
			return ConnectFailedMsg{Err: err}
		}
		return nil
	}
}

func (m *SerialModel) WriteCmd(id int, data []byte) tea.Cmd {
	return func() tea.Msg {
		return WriteResultMsg{ID: id, Err: m.session.Write(context.Background(), data)}
	}
}

// DisconnectCmd ends the connection. The DisconnectedMsg comes from the controller.
func (m *SerialModel) DisconnectCmd() tea.Cmd {
	return func() tea.Msg {
		_ = m.session.Disconnect()
		return nil
	}
}

// QuitCmd disconnects and then asks the program to exit
func (m *SerialModel) QuitCmd() tea.Cmd {
	m.quitting = true
	return func() tea.Msg {
		_ = m.session.Disconnect()
		return QuitMsg{}
	}
}
