package models

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	serial "github.com/allbin/serial-session"
)

// ConnectedMsg is sent when the session has opened a port
type ConnectedMsg struct {
	At time.Time
}

// DataMsg carries one inbound chunk
type DataMsg struct {
	Data []byte
	At   time.Time
}

// DisconnectedMsg ends a connection. Err is nil for a requested disconnect.
type DisconnectedMsg struct {
	Err error
	At  time.Time
}

// ConnectFailedMsg reports a Connect that never reached the connected state
type ConnectFailedMsg struct {
	Err error
}

// WriteResultMsg reports the outcome of the write for terminal entry ID
type WriteResultMsg struct {
	ID  int
	Err error
}

// QuitMsg is sent once the session is down and the program may exit
type QuitMsg struct{}

// Sender is implemented by *tea.Program
type Sender interface {
	Send(msg tea.Msg)
}

// Forwarder is a serial.Controller that turns session callbacks into program
// messages. Callbacks before Attach are dropped.
type Forwarder struct {
	mu     sync.RWMutex
	sender Sender
	now    func() time.Time
}

var _ serial.Controller = (*Forwarder)(nil)

func NewForwarder() *Forwarder {
	return &Forwarder{now: time.Now}
}

func (f *Forwarder) Attach(s Sender) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sender = s
}

func (f *Forwarder) send(msg tea.Msg) {
	f.mu.RLock()
	s := f.sender
	f.mu.RUnlock()
	if s != nil {
		s.Send(msg)
	}
}

func (f *Forwarder) OnConnected() {
	f.send(ConnectedMsg{At: f.now()})
}

func (f *Forwarder) OnData(p []byte) {
	f.send(DataMsg{Data: p, At: f.now()})
}

func (f *Forwarder) OnDisconnected(err error) {
	f.send(DisconnectedMsg{Err: err, At: f.now()})
}
