package serial

// Controller receives lifecycle and inbound-data notifications from a Session.
//
// Per connection the calls arrive as OnConnected, then OnData zero or more times,
// then OnDisconnected exactly once. OnData runs on the read goroutine: blocking in it
// stalls the read loop. Calling Session.Connect or Session.Disconnect from inside
// any callback deadlocks; hand that work to another goroutine. Session.Write is
// safe to call from OnData.
type Controller interface {
	OnConnected()
	// OnData delivers one inbound chunk. The slice is owned by the callee.
	// Chunk boundaries are arbitrary; only byte order is preserved.
	OnData(p []byte)
	// OnDisconnected reports the end of a connection. err is nil for a requested
	// Disconnect and wraps ErrIO when the link failed.
	OnDisconnected(err error)
}

// ControllerFuncs adapts optional functions to Controller. Nil fields are no-ops.
type ControllerFuncs struct {
	Connected    func()
	Data         func(p []byte)
	Disconnected func(err error)
}

var _ Controller = ControllerFuncs{}

func (c ControllerFuncs) OnConnected() {
	if c.Connected != nil {
		c.Connected()
	}
}

func (c ControllerFuncs) OnData(p []byte) {
	if c.Data != nil {
		c.Data(p)
	}
}

func (c ControllerFuncs) OnDisconnected(err error) {
	if c.Disconnected != nil {
		c.Disconnected(err)
	}
}

// NopController discards every notification.
type NopController struct{}

func (NopController) OnConnected()           {}
func (NopController) OnData([]byte)          {}
func (NopController) OnDisconnected(e error) {}
