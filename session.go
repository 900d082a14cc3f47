package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// State is the connection state of a Session
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const (
	DefaultOpenTimeout  = 5 * time.Second
	DefaultWriteTimeout = 5 * time.Second

	defaultReadBufferSize = 4096
)

// Stats are cumulative counters over the life of a Session
type Stats struct {
	Connects     uint64
	Disconnects  uint64
	BytesRead    uint64
	BytesWritten uint64
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithHost replaces the default SystemHost
func WithHost(host Host) SessionOption {
	return func(s *Session) {
		s.host = host
	}
}

// WithChooser installs an interactive consent step that runs during Scan
func WithChooser(chooser PortChooser) SessionOption {
	return func(s *Session) {
		s.chooser = chooser
	}
}

// WithLogger sets the structured logger; the default discards everything
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOpenTimeout bounds the port open during Connect. Zero disables the bound.
func WithOpenTimeout(timeout time.Duration) SessionOption {
	return func(s *Session) {
		s.openTimeout = timeout
	}
}

// WithWriteTimeout bounds each Write, including the wait for earlier writers.
// Zero disables the bound.
func WithWriteTimeout(timeout time.Duration) SessionOption {
	return func(s *Session) {
		s.writeTimeout = timeout
	}
}

// WithReadBufferSize sets the largest chunk handed to OnData
func WithReadBufferSize(size int) SessionOption {
	return func(s *Session) {
		if size > 0 {
			s.readBufferSize = size
		}
	}
}

// Session owns the serial connection of one peripheral across connect/disconnect cycles.
//
// Lifecycle: Disconnected -> Connecting -> Connected -> Disconnected. Connect and Disconnect
// are serialised; Disconnect cancels a Connect in flight. While connected a single
// goroutine drains the port into Controller.OnData and writes are linearised.
type Session struct {
	deviceID       string
	host           Host
	chooser        PortChooser
	ctrl           Controller
	logger         *zap.Logger
	openTimeout    time.Duration
	writeTimeout   time.Duration
	readBufferSize int

	// transition serialises Connect and Disconnect
	transition sync.Mutex

	// notify keeps a state change and its callback together, so a new connection's
	// OnConnected never overtakes the previous connection's OnDisconnected
	notify sync.Mutex

	mu            sync.Mutex
	state         State
	conn          *conn
	cancelConnect context.CancelFunc

	connects     atomic.Uint64
	disconnects  atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// conn is one open port and the goroutine draining it
type conn struct {
	id       string
	info     PortInfo
	port     io.ReadWriteCloser
	logger   *zap.Logger
	writeSem *semaphore.Weighted

	stop       chan struct{} // closed when teardown starts
	readerDone chan struct{} // closed when the read loop has returned

	teardownOnce sync.Once
	closeErr     error
}

func (c *conn) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// NewSession creates a disconnected session for deviceID reporting to ctrl
func NewSession(deviceID string, ctrl Controller, opts ...SessionOption) *Session {
	if ctrl == nil {
		ctrl = NopController{}
	}
	s := &Session{
		deviceID:       deviceID,
		host:           SystemHost{},
		ctrl:           ctrl,
		logger:         zap.NewNop(),
		openTimeout:    DefaultOpenTimeout,
		writeTimeout:   DefaultWriteTimeout,
		readBufferSize: defaultReadBufferSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("device", deviceID))
	return s
}

// DeviceID returns the peripheral identity the session was created for
func (s *Session) DeviceID() string {
	return s.deviceID
}

// State returns the current connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session is in StateConnected
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Port returns the port of the current connection
func (s *Session) Port() (PortInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return PortInfo{}, false
	}
	return s.conn.info, true
}

// Stats returns a snapshot of the session counters
func (s *Session) Stats() Stats {
	return Stats{
		Connects:     s.connects.Load(),
		Disconnects:  s.disconnects.Load(),
		BytesRead:    s.bytesRead.Load(),
		BytesWritten: s.bytesWritten.Load(),
	}
}

// Scan returns the first port matching filter without touching session state.
// With a PortChooser installed the matching ports are offered to the user first.
func (s *Session) Scan(ctx context.Context, filter DeviceFilter) (PortInfo, error) {
	ports, err := s.host.Ports(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUserCancelled) {
			return PortInfo{}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PortInfo{}, ctxErr
		}
		return PortInfo{}, fmt.Errorf("failed to enumerate ports: %w", err)
	}

	matches := filter.Select(ports)
	s.logger.Debug("Scanned serial ports",
		zap.Int("ports", len(ports)),
		zap.Int("matches", len(matches)),
		zap.Stringer("filter", filter),
	)
	if len(matches) == 0 {
		return PortInfo{}, fmt.Errorf("%w: %s", ErrNoMatchingDevice, filter)
	}

	if s.chooser == nil {
		return matches[0], nil
	}

	info, err := s.chooser.Choose(ctx, matches)
	if err != nil {
		if errors.Is(err, ErrUserCancelled) || errors.Is(err, ErrPermissionDenied) {
			return PortInfo{}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PortInfo{}, ctxErr
		}
		return PortInfo{}, fmt.Errorf("port selection failed: %w", err)
	}
	if !filter.Matches(info) {
		return PortInfo{}, fmt.Errorf("%w: chosen port %s", ErrNoMatchingDevice, info.Path)
	}
	return info, nil
}

// Connect scans for a port matching filter, opens it with link and starts the read loop.
// It is valid only while disconnected. OnConnected has been delivered when Connect
// returns nil; on error the session is back in StateDisconnected and nothing was reported.
func (s *Session) Connect(ctx context.Context, filter DeviceFilter, link LinkConfig) error {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	if err := link.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.state = StateConnecting
	s.cancelConnect = cancel
	s.mu.Unlock()

	s.logger.Info("Connecting serial session",
		zap.Stringer("filter", filter),
		zap.Stringer("link", link),
	)

	c, err := s.dial(ctx, filter, link)

	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	s.cancelConnect = nil
	if err == nil && ctx.Err() != nil {
		// Disconnect arrived after the port opened
		err = multierr.Combine(connectCancelled(ctx), c.port.Close())
	}
	if err != nil {
		s.state = StateDisconnected
		s.mu.Unlock()
		s.logger.Warn("Failed to connect serial session", zap.Error(err))
		return err
	}
	s.state = StateConnected
	s.conn = c
	s.mu.Unlock()

	s.connects.Inc()
	c.logger.Info("Serial port opened successfully")

	s.ctrl.OnConnected()
	go s.readLoop(c)
	return nil
}

// dial performs the scan and open steps of Connect
func (s *Session) dial(ctx context.Context, filter DeviceFilter, link LinkConfig) (*conn, error) {
	info, err := s.Scan(ctx, filter)
	if err != nil {
		if ctx.Err() != nil {
			return nil, connectCancelled(ctx)
		}
		return nil, err
	}

	openCtx := ctx
	if s.openTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, s.openTimeout)
		defer cancel()
	}

	s.logger.Debug("Opening serial port", zap.String("port", info.Path))
	port, err := s.host.Open(openCtx, info.Path, link)
	if err != nil {
		if ctx.Err() != nil {
			return nil, connectCancelled(ctx)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, info.Path, err)
	}

	id := uuid.NewString()
	return &conn{
		id:   id,
		info: info,
		port: port,
		logger: s.logger.With(
			zap.String("conn_id", id),
			zap.String("port", info.Path),
		),
		writeSem:   semaphore.NewWeighted(1),
		stop:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}, nil
}

func connectCancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrConnectCancelled, context.Cause(ctx))
}

// contextWriter is implemented by ports whose writes honour a context deadline
type contextWriter interface {
	WriteContext(ctx context.Context, data []byte) (int, error)
}

// Write sends p in full. Concurrent writers are queued and never interleave on the wire.
// A write that times out or is cancelled after bytes may have left tears the connection
// down rather than let the next writer continue a half-sent frame. Write returns once
// teardown has started even if the port has not released the stuck write.
func (s *Session) Write(ctx context.Context, p []byte) error {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}

	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}

	if err := c.writeSem.Acquire(ctx, 1); err != nil {
		return writeAborted(err)
	}
	defer c.writeSem.Release(1)

	if c.stopped() {
		return ErrNotConnected
	}
	if len(p) == 0 {
		return nil
	}

	if w, ok := c.port.(contextWriter); ok {
		return s.writeResult(ctx, c, len(p), writeFullContext(ctx, w, p, c.stop))
	}

	// buffered so the writer can exit after Write has given up on it
	done := make(chan error, 1)
	go func() {
		done <- writeFull(c.port, p, c.stop)
	}()

	select {
	case err := <-done:
		return s.writeResult(ctx, c, len(p), err)
	case <-c.stop:
		return ErrNotConnected
	case <-ctx.Done():
		return s.abortWrite(ctx, c)
	}
}

// writeResult accounts a finished write and tears c down if the write failed
func (s *Session) writeResult(ctx context.Context, c *conn, n int, err error) error {
	switch {
	case err == nil:
		s.bytesWritten.Add(uint64(n))
		return nil
	case c.stopped():
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	case ctx.Err() != nil:
		return s.abortWrite(ctx, c)
	default:
		ioErr := fmt.Errorf("%w: write %s: %w", ErrIO, c.info.Path, err)
		go s.teardown(c, ioErr)
		return ioErr
	}
}

// abortWrite starts teardown for a write cut short by ctx and returns without waiting
func (s *Session) abortWrite(ctx context.Context, c *conn) error {
	err := writeAborted(ctx.Err())
	go s.teardown(c, fmt.Errorf("%w: %w", ErrIO, err))
	return err
}

func writeAborted(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrWriteTimeout, err)
	}
	return err
}

// writeFull retries short writes until p is exhausted, the port fails or stop is closed
func writeFull(w io.Writer, p []byte, stop <-chan struct{}) error {
	for len(p) > 0 {
		select {
		case <-stop:
			return ErrPortClosed
		default:
		}
		n, err := w.Write(p)
		p = p[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// writeFullContext is writeFull for ports that bound each write by ctx
func writeFullContext(ctx context.Context, w contextWriter, p []byte, stop <-chan struct{}) error {
	for len(p) > 0 {
		select {
		case <-stop:
			return ErrPortClosed
		default:
		}
		n, err := w.WriteContext(ctx, p)
		p = p[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// Disconnect closes the current connection, or cancels a Connect in flight.
// It is safe in any state and reports OnDisconnected only for a live connection.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.cancelConnect != nil {
		s.cancelConnect()
	}
	s.mu.Unlock()

	s.transition.Lock()
	defer s.transition.Unlock()

	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	return s.teardown(c, nil)
}

// teardown stops the reader, closes the port and reports the disconnect once per conn.
// cause is nil for a requested Disconnect.
func (s *Session) teardown(c *conn, cause error) error {
	c.teardownOnce.Do(func() {
		close(c.stop)
		closeErr := c.port.Close()
		if errors.Is(closeErr, ErrPortClosed) {
			closeErr = nil
		}
		<-c.readerDone

		s.notify.Lock()
		defer s.notify.Unlock()

		s.mu.Lock()
		if s.conn == c {
			s.conn = nil
			s.state = StateDisconnected
		}
		s.mu.Unlock()

		s.disconnects.Inc()
		if cause != nil {
			c.logger.Warn("Serial connection lost", zap.Error(cause))
		} else {
			c.logger.Info("Serial port closed")
		}
		if closeErr != nil {
			c.logger.Error("Failed to close serial port", zap.Error(closeErr))
			c.closeErr = fmt.Errorf("failed to close serial port: %w", closeErr)
		}

		s.ctrl.OnDisconnected(cause)
	})
	return c.closeErr
}

// readLoop is the only consumer of inbound bytes for c
func (s *Session) readLoop(c *conn) {
	err := s.drain(c)
	close(c.readerDone)
	if err != nil {
		s.teardown(c, err)
	}
}

// drain delivers chunks until the port fails or teardown begins.
// It returns nil when stopped by teardown.
func (s *Session) drain(c *conn) error {
	buf := make([]byte, s.readBufferSize)
	for {
		n, err := c.port.Read(buf)
		if c.stopped() {
			return nil
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.bytesRead.Add(uint64(n))
			s.ctrl.OnData(chunk)
		}
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			return fmt.Errorf("%w: read %s: %w", ErrIO, c.info.Path, err)
		}
	}
}
