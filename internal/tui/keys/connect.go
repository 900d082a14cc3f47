package keys

import "github.com/charmbracelet/bubbles/key"

// ConnectKeys adds sending and session control to the terminal keys
type ConnectKeys struct {
	TerminalKeys
	Enter          key.Binding
	ToggleSendMode key.Binding
	ToggleNewline  key.Binding
	Reconnect      key.Binding
	Disconnect     key.Binding
}

func NewConnectKeys() ConnectKeys {
	return ConnectKeys{
		TerminalKeys: NewTerminalKeys(),
		Enter: key.NewBinding(
			key.WithKeys("enter", "ctrl+s"),
			key.WithHelp("enter", "send message"),
		),
		ToggleSendMode: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "toggle send mode"),
		),
		ToggleNewline: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "toggle newline"),
		),
		Reconnect: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reconnect"),
		),
		Disconnect: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "disconnect"),
		),
	}
}

func (k ConnectKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.InsertMode, k.Reconnect, k.Enter, k.Quit}
}

func (k ConnectKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.InsertMode, k.Escape, k.Clear, k.ToggleSendMode, k.ToggleNewline},
		{k.ToggleHex, k.ToggleASCII, k.GotoTop, k.GotoBottom, k.Up, k.Down},
		{k.Reconnect, k.Disconnect},
		{k.Enter, k.Help, k.Quit},
	}
}
