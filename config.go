package serial

import (
	"fmt"
	"time"
)

// WriteMode represents the write synchronization mode
type WriteMode int

const (
	WriteModeBuffered WriteMode = iota // Default: kernel buffers writes
	WriteModeSynced                    // O_SYNC: writes block until hardware transmission
)

// Parity represents the parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "N"
	case ParityOdd:
		return "O"
	case ParityEven:
		return "E"
	case ParityMark:
		return "M"
	case ParitySpace:
		return "S"
	default:
		return "?"
	}
}

// LinkConfig holds the link parameters applied when a port is opened.
// A LinkConfig is a plain value; build one with NewLinkConfig and pass it by value.
type LinkConfig struct {
	BaudRate  int
	DataBits  int
	StopBits  int
	Parity    Parity
	RTS       bool // initial Request To Send level
	DTR       bool // initial Data Terminal Ready level
	WriteMode WriteMode

	// ReadTimeout bounds each read made without a deadline; zero blocks until data.
	// The session read loop treats ErrReadTimeout as an idle line.
	ReadTimeout time.Duration
}

// Option is a functional option for configuring a serial link
type Option func(*LinkConfig) error

// DefaultLinkConfig returns 115200 8N1 with RTS and DTR de-asserted.
// Both lines low keeps boards with auto-reset circuits from rebooting on open.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		BaudRate:  115200,
		DataBits:  8,
		StopBits:  1,
		Parity:    ParityNone,
		WriteMode: WriteModeBuffered,
	}
}

// NewLinkConfig applies opts on top of DefaultLinkConfig.
func NewLinkConfig(opts ...Option) (LinkConfig, error) {
	config := DefaultLinkConfig()
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return LinkConfig{}, err
		}
	}
	return config, nil
}

// Validate reports whether the configuration can be applied to a port.
func (c LinkConfig) Validate() error {
	if _, err := getBaudRate(c.BaudRate); err != nil {
		return err
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("%w: data bits %d", ErrInvalidConfig, c.DataBits)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("%w: stop bits %d", ErrInvalidConfig, c.StopBits)
	}
	if c.Parity < ParityNone || c.Parity > ParitySpace {
		return fmt.Errorf("%w: parity %d", ErrInvalidConfig, c.Parity)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: negative read timeout", ErrInvalidConfig)
	}
	return nil
}

// String renders the framing the way terminal programs do, e.g. "115200 8N1".
func (c LinkConfig) String() string {
	return fmt.Sprintf("%d %d%s%d", c.BaudRate, c.DataBits, c.Parity, c.StopBits)
}

// WithBaudRate sets the baud rate
func WithBaudRate(rate int) Option {
	return func(c *LinkConfig) error {
		if _, err := getBaudRate(rate); err != nil {
			return err
		}
		c.BaudRate = rate
		return nil
	}
}

// WithDataBits sets the number of data bits (5, 6, 7, or 8)
func WithDataBits(bits int) Option {
	return func(c *LinkConfig) error {
		if bits < 5 || bits > 8 {
			return ErrInvalidConfig
		}
		c.DataBits = bits
		return nil
	}
}

// WithStopBits sets the number of stop bits (1 or 2)
func WithStopBits(bits int) Option {
	return func(c *LinkConfig) error {
		if bits != 1 && bits != 2 {
			return ErrInvalidConfig
		}
		c.StopBits = bits
		return nil
	}
}

// WithParity sets the parity mode
func WithParity(parity Parity) Option {
	return func(c *LinkConfig) error {
		if parity < ParityNone || parity > ParitySpace {
			return ErrInvalidConfig
		}
		c.Parity = parity
		return nil
	}
}

// WithRTS sets the RTS level asserted while the port is opened
func WithRTS(state bool) Option {
	return func(c *LinkConfig) error {
		c.RTS = state
		return nil
	}
}

// WithDTR sets the DTR level asserted while the port is opened
func WithDTR(state bool) Option {
	return func(c *LinkConfig) error {
		c.DTR = state
		return nil
	}
}

// WithReadTimeout sets the timeout applied to reads made without a deadline.
// The kernel counts in tenths of a second, so the value must be a multiple of 100ms, at most 25.5s.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *LinkConfig) error {
		if timeout < 0 || timeout > 25500*time.Millisecond {
			return ErrInvalidConfig
		}
		if timeout%(100*time.Millisecond) != 0 {
			return ErrInvalidConfig
		}
		c.ReadTimeout = timeout
		return nil
	}
}

// WithWriteMode sets the write synchronization mode
func WithWriteMode(mode WriteMode) Option {
	return func(c *LinkConfig) error {
		c.WriteMode = mode
		return nil
	}
}

// WithSyncWrite enables synchronous writes (O_SYNC) for guaranteed transmission
func WithSyncWrite() Option {
	return func(c *LinkConfig) error {
		c.WriteMode = WriteModeSynced
		return nil
	}
}
