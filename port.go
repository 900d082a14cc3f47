package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Port represents a serial port connection interface
type Port interface {
	io.ReadWriteCloser
	ReadContext(ctx context.Context, buf []byte) (int, error)
	WriteContext(ctx context.Context, data []byte) (int, error)

	// Modem signal control
	GetModemSignals() (ModemSignals, error)
	SetRTS(state bool) error
	SetDTR(state bool) error
}

const drainPollInterval = 2 * time.Millisecond

// port is the concrete implementation of the Port interface.
// The descriptor is non-blocking and owned by an *os.File, so reads and writes park in
// the runtime poller and Close wakes them up instead of waiting for them.
type port struct {
	f      *os.File
	rc     syscall.RawConn
	config LinkConfig

	mu     sync.Mutex // guards closed and serialises ioctls
	closed bool
}

// Ensure port implements Port interface at compile time
var _ Port = (*port)(nil)

// ModemSignals represents modem control signal states
type ModemSignals struct {
	CTS bool // Clear To Send
	DSR bool // Data Set Ready
	RI  bool // Ring Indicator
	DCD bool // Data Carrier Detect
	RTS bool // Request To Send
	DTR bool // Data Terminal Ready
}

func modemSignalsFromStatus(status int) ModemSignals {
	return ModemSignals{
		CTS: status&unix.TIOCM_CTS != 0,
		DSR: status&unix.TIOCM_DSR != 0,
		RI:  status&unix.TIOCM_RI != 0,
		DCD: status&unix.TIOCM_CAR != 0,
		RTS: status&unix.TIOCM_RTS != 0,
		DTR: status&unix.TIOCM_DTR != 0,
	}
}

// getBaudRate converts an integer baud rate to the unix constant
func getBaudRate(rate int) (uint32, error) {
	switch rate {
	case 50:
		return unix.B50, nil
	case 75:
		return unix.B75, nil
	case 110:
		return unix.B110, nil
	case 134:
		return unix.B134, nil
	case 150:
		return unix.B150, nil
	case 200:
		return unix.B200, nil
	case 300:
		return unix.B300, nil
	case 600:
		return unix.B600, nil
	case 1200:
		return unix.B1200, nil
	case 1800:
		return unix.B1800, nil
	case 2400:
		return unix.B2400, nil
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 500000:
		return unix.B500000, nil
	case 576000:
		return unix.B576000, nil
	case 921600:
		return unix.B921600, nil
	case 1000000:
		return unix.B1000000, nil
	case 1152000:
		return unix.B1152000, nil
	case 1500000:
		return unix.B1500000, nil
	case 2000000:
		return unix.B2000000, nil
	case 2500000:
		return unix.B2500000, nil
	case 3000000:
		return unix.B3000000, nil
	case 3500000:
		return unix.B3500000, nil
	case 4000000:
		return unix.B4000000, nil
	default:
		return 0, ErrInvalidBaudRate
	}
}

// classifyErrno maps open/ioctl errnos onto the package sentinels, keeping the errno in the chain.
func classifyErrno(err error) error {
	switch {
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case errors.Is(err, unix.EBUSY):
		return fmt.Errorf("%w: %w", ErrDeviceInUse, err)
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENXIO), errors.Is(err, unix.ENODEV):
		return fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
	default:
		return err
	}
}

// Open opens a serial port with the given device path and options
func Open(device string, opts ...Option) (Port, error) {
	config, err := NewLinkConfig(opts...)
	if err != nil {
		return nil, err
	}
	return OpenLink(device, config)
}

// OpenLink opens device with an already built LinkConfig.
// The port is returned only once exclusive access, framing and the initial RTS/DTR
// levels are all in place; any failure closes the descriptor first.
func OpenLink(device string, config LinkConfig) (Port, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	flags := unix.O_RDWR | unix.O_NOCTTY | unix.O_NONBLOCK | unix.O_CLOEXEC
	if config.WriteMode == WriteModeSynced {
		flags |= unix.O_SYNC
	}

	fd, err := unix.Open(device, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, classifyErrno(err))
	}

	if err := setupPort(fd, config); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to configure %s: %w", device, err)
	}

	f := os.NewFile(uintptr(fd), device)
	rc, err := f.SyscallConn()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to configure %s: %w", device, err)
	}

	return &port{
		f:      f,
		rc:     rc,
		config: config,
	}, nil
}

// setupPort claims the tty and applies framing and line levels
func setupPort(fd int, config LinkConfig) error {
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		return classifyErrno(err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to get termios: %w", err)
	}

	if err := applyTermios(termios, config); err != nil {
		return err
	}

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("failed to set termios: %w", err)
	}

	if err := setModemLine(fd, unix.TIOCM_RTS, config.RTS); err != nil {
		return fmt.Errorf("failed to set initial RTS: %w", err)
	}
	if err := setModemLine(fd, unix.TIOCM_DTR, config.DTR); err != nil {
		return fmt.Errorf("failed to set initial DTR: %w", err)
	}
	return nil
}

// applyTermios writes raw mode plus the configured framing into termios
func applyTermios(termios *unix.Termios, config LinkConfig) error {
	baudRate, err := getBaudRate(config.BaudRate)
	if err != nil {
		return err
	}

	// Raw mode; HUPCL stays clear so closing does not drop DTR and reset the board
	termios.Cflag = unix.CREAD | unix.CLOCAL
	termios.Iflag = 0
	termios.Oflag = 0
	termios.Lflag = 0

	// The descriptor is non-blocking; the poller waits for the first byte
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	termios.Cflag = (termios.Cflag &^ unix.CBAUD) | baudRate
	termios.Ispeed = baudRate
	termios.Ospeed = baudRate

	switch config.DataBits {
	case 5:
		termios.Cflag |= unix.CS5
	case 6:
		termios.Cflag |= unix.CS6
	case 7:
		termios.Cflag |= unix.CS7
	case 8:
		termios.Cflag |= unix.CS8
	default:
		return ErrInvalidConfig
	}

	if config.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}

	switch config.Parity {
	case ParityNone:
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		termios.Cflag |= unix.PARENB
	case ParityMark:
		termios.Cflag |= unix.PARENB | unix.PARODD | unix.CMSPAR
	case ParitySpace:
		termios.Cflag |= unix.PARENB | unix.CMSPAR
	default:
		return ErrInvalidConfig
	}

	return nil
}

// setModemLine raises or lowers one modem output line (TIOCM_RTS or TIOCM_DTR)
func setModemLine(fd int, line int, state bool) error {
	if state {
		return unix.IoctlSetPointerInt(fd, unix.TIOCMBIS, line)
	}
	return unix.IoctlSetPointerInt(fd, unix.TIOCMBIC, line)
}

// control runs fn against the raw descriptor unless the port is closed
func (p *port) control(fn func(fd int) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}

	var opErr error
	if err := p.rc.Control(func(fd uintptr) {
		opErr = fn(int(fd))
	}); err != nil {
		return p.mapErr(err)
	}
	return opErr
}

// mapErr translates *os.File errors into package errors
func (p *port) mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrClosed):
		return ErrPortClosed
	case errors.Is(err, io.EOF):
		return io.EOF
	default:
		return err
	}
}

// Close closes the serial port. Pending reads and writes return ErrPortClosed.
func (p *port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}
	p.closed = true
	return p.f.Close()
}

// Read reads data from the serial port.
// With a ReadTimeout configured it returns ErrReadTimeout when no byte arrives in time.
func (p *port) Read(buf []byte) (int, error) {
	return p.ReadContext(context.Background(), buf)
}

// Write writes the whole buffer to the serial port
func (p *port) Write(data []byte) (int, error) {
	return p.WriteContext(context.Background(), data)
}

// ReadContext reads data with context timeout support.
// Without a context deadline the configured ReadTimeout applies.
func (p *port) ReadContext(ctx context.Context, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	deadline, ok := ctx.Deadline()
	if !ok && p.config.ReadTimeout > 0 {
		deadline = time.Now().Add(p.config.ReadTimeout)
	}
	if err := p.f.SetReadDeadline(deadline); err != nil {
		return 0, p.mapErr(err)
	}
	defer p.f.SetReadDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() {
		p.f.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	n, err := p.f.Read(buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return n, ErrReadTimeout
			}
			return n, ctxErr
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, ErrReadTimeout
		}
	}
	return n, p.mapErr(err)
}

// WriteContext writes data with context timeout support.
// In WriteModeSynced it also waits, within ctx, until the output queue is empty.
func (p *port) WriteContext(ctx context.Context, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	deadline, _ := ctx.Deadline()
	if err := p.f.SetWriteDeadline(deadline); err != nil {
		return 0, p.mapErr(err)
	}
	defer p.f.SetWriteDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() {
		p.f.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()

	n, err := p.f.Write(data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return n, ErrWriteTimeout
			}
			return n, ctxErr
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, ErrWriteTimeout
		}
		return n, p.mapErr(err)
	}

	if p.config.WriteMode == WriteModeSynced {
		return n, p.drain(ctx)
	}
	return n, nil
}

// GetModemSignals returns current state of all modem control signals
func (p *port) GetModemSignals() (ModemSignals, error) {
	var status int
	err := p.control(func(fd int) error {
		var err error
		status, err = unix.IoctlGetInt(fd, unix.TIOCMGET)
		return err
	})
	if err != nil {
		return ModemSignals{}, err
	}
	return modemSignalsFromStatus(status), nil
}

// SetRTS manually sets the RTS signal state
func (p *port) SetRTS(state bool) error {
	return p.control(func(fd int) error {
		return setModemLine(fd, unix.TIOCM_RTS, state)
	})
}

// SetDTR manually sets the DTR signal state
func (p *port) SetDTR(state bool) error {
	return p.control(func(fd int) error {
		return setModemLine(fd, unix.TIOCM_DTR, state)
	})
}

// drain polls the kernel output queue until it is empty or ctx is done.
// Each poll holds the descriptor only briefly, so Close is never held up.
func (p *port) drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		var queued int
		err := p.control(func(fd int) error {
			var err error
			queued, err = unix.IoctlGetInt(fd, unix.TIOCOUTQ)
			return err
		})
		if err != nil || queued == 0 {
			return err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrWriteTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
