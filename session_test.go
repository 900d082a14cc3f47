package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	ch340Port = PortInfo{Name: "ttyUSB0", Path: "/dev/ttyUSB0", VendorID: "1a86", ProductID: "7523"}
	ftdiPort  = PortInfo{Name: "ttyUSB1", Path: "/dev/ttyUSB1", VendorID: "0403", ProductID: "6001"}
	onboard   = PortInfo{Name: "ttyS0", Path: "/dev/ttyS0"}
)

// fakePort is an in-memory port. Close unblocks pending Read and Write calls unless
// release is set.
type fakePort struct {
	reads   chan []byte
	readErr chan error
	closed  chan struct{}

	// maxWrite caps bytes accepted per Write call to force short writes
	maxWrite int
	// blockWrites, when set, holds every Write until the port is closed
	blockWrites bool
	// release, when set, holds every Write until it is closed and ignores Close,
	// like a write(2) stuck on hung hardware
	release chan struct{}
	// writing is signalled each time a Write starts
	writing chan struct{}

	mu        sync.Mutex
	written   bytes.Buffer
	closes    int
	closeOnce sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		reads:   make(chan []byte, 64),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
		writing: make(chan struct{}, 1),
	}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case chunk := <-p.reads:
		return copy(buf, chunk), nil
	case err := <-p.readErr:
		return 0, err
	case <-p.closed:
		return 0, ErrPortClosed
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	select {
	case p.writing <- struct{}{}:
	default:
	}
	if p.release != nil {
		<-p.release
		p.mu.Lock()
		p.written.Write(data)
		p.mu.Unlock()
		return len(data), nil
	}
	if p.blockWrites {
		<-p.closed
		return 0, ErrPortClosed
	}
	select {
	case <-p.closed:
		return 0, ErrPortClosed
	default:
	}

	n := len(data)
	if p.maxWrite > 0 && n > p.maxWrite {
		n = p.maxWrite
	}
	p.mu.Lock()
	p.written.Write(data[:n])
	p.mu.Unlock()
	runtime.Gosched()
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()

	err := ErrPortClosed
	p.closeOnce.Do(func() {
		close(p.closed)
		err = nil
	})
	return err
}

func (p *fakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// contextPort is a fakePort whose writes honour a context deadline
type contextPort struct {
	*fakePort

	mu    sync.Mutex
	calls int
}

func (p *contextPort) WriteContext(ctx context.Context, data []byte) (int, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.blockWrites {
		select {
		case <-ctx.Done():
			return 0, ErrWriteTimeout
		case <-p.closed:
			return 0, ErrPortClosed
		}
	}
	return p.fakePort.Write(data)
}

func (p *contextPort) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeHost serves a fixed port list and hands out fakePorts
type fakeHost struct {
	ports    []PortInfo
	portsErr error
	openErr  error

	// blockOpen holds Open until its context is done
	blockOpen bool
	opening   chan struct{}
	configure func(*fakePort)
	// contextWrites makes Open return contextPorts
	contextWrites bool

	mu      sync.Mutex
	opened  []*fakePort
	wrapped []*contextPort
	paths   []string
}

func newFakeHost(ports ...PortInfo) *fakeHost {
	return &fakeHost{ports: ports, opening: make(chan struct{}, 1)}
}

func (h *fakeHost) Ports(ctx context.Context) ([]PortInfo, error) {
	if h.portsErr != nil {
		return nil, h.portsErr
	}
	return append([]PortInfo(nil), h.ports...), nil
}

func (h *fakeHost) Open(ctx context.Context, path string, link LinkConfig) (io.ReadWriteCloser, error) {
	select {
	case h.opening <- struct{}{}:
	default:
	}
	if h.blockOpen {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if h.openErr != nil {
		return nil, h.openErr
	}

	p := newFakePort()
	if h.configure != nil {
		h.configure(p)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, p)
	h.paths = append(h.paths, path)
	if h.contextWrites {
		cp := &contextPort{fakePort: p}
		h.wrapped = append(h.wrapped, cp)
		return cp, nil
	}
	return p, nil
}

func (h *fakeHost) port(i int) *fakePort {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opened[i]
}

func (h *fakeHost) contextPort(i int) *contextPort {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.wrapped[i]
}

// recorder is a Controller that keeps every notification in order
type recorder struct {
	mu     sync.Mutex
	events []string
	data   bytes.Buffer
	errs   []error

	onData       func(p []byte)
	disconnected chan error
}

func newRecorder() *recorder {
	return &recorder{disconnected: make(chan error, 16)}
}

func (r *recorder) OnConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "connected")
}

func (r *recorder) OnData(p []byte) {
	r.mu.Lock()
	r.events = append(r.events, "data")
	r.data.Write(p)
	hook := r.onData
	r.mu.Unlock()
	if hook != nil {
		hook(p)
	}
}

func (r *recorder) OnDisconnected(err error) {
	r.mu.Lock()
	r.events = append(r.events, "disconnected")
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.disconnected <- err
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Data() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.String()
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.Events() {
		if e == event {
			n++
		}
	}
	return n
}

// checkOrder verifies connected, data*, disconnected per connection
func (r *recorder) checkOrder(t *testing.T) {
	t.Helper()
	connected := false
	for i, e := range r.Events() {
		switch e {
		case "connected":
			if connected {
				t.Errorf("event %d: OnConnected while already connected", i)
			}
			connected = true
		case "data":
			if !connected {
				t.Errorf("event %d: OnData outside a connection", i)
			}
		case "disconnected":
			if !connected {
				t.Errorf("event %d: OnDisconnected without OnConnected", i)
			}
			connected = false
		}
	}
}

func (r *recorder) waitDisconnected(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.disconnected:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnDisconnected")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestSession(host Host, rec *recorder, opts ...SessionOption) *Session {
	opts = append([]SessionOption{WithHost(host)}, opts...)
	return NewSession("test-device", rec, opts...)
}

func TestSessionConnect(t *testing.T) {
	host := newFakeHost(onboard, ch340Port)
	rec := newRecorder()
	s := newTestSession(host, rec)

	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if !s.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	if got := rec.Events(); len(got) != 1 || got[0] != "connected" {
		t.Errorf("events = %v, want [connected]", got)
	}
	if info, ok := s.Port(); !ok || info.Path != ch340Port.Path {
		t.Errorf("Port() = %v, %v, want %s", info, ok, ch340Port.Path)
	}
	if stats := s.Stats(); stats.Connects != 1 {
		t.Errorf("Stats().Connects = %d, want 1", stats.Connects)
	}

	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := rec.waitDisconnected(t); err != nil {
		t.Errorf("OnDisconnected(%v), want nil for requested disconnect", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
	if _, ok := s.Port(); ok {
		t.Error("Port() reported a port after Disconnect")
	}
	if !host.port(0).isClosed() {
		t.Error("port left open after Disconnect")
	}
	rec.checkOrder(t)
}

func TestSessionDisconnectIdempotent(t *testing.T) {
	host := newFakeHost(ch340Port)
	rec := newRecorder()
	s := newTestSession(host, rec)

	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect() while disconnected error = %v", err)
	}

	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Disconnect(); err != nil {
				t.Errorf("Disconnect() error = %v", err)
			}
		}()
	}
	wg.Wait()
	rec.waitDisconnected(t)

	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect() after disconnect error = %v", err)
	}
	if n := rec.count("disconnected"); n != 1 {
		t.Errorf("OnDisconnected called %d times, want 1", n)
	}
	if stats := s.Stats(); stats.Disconnects != 1 {
		t.Errorf("Stats().Disconnects = %d, want 1", stats.Disconnects)
	}
}

func TestSessionNoMatchingDevice(t *testing.T) {
	tests := []struct {
		name  string
		ports []PortInfo
	}{
		{"no ports", nil},
		{"other devices", []PortInfo{onboard, ftdiPort}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost(tt.ports...)
			rec := newRecorder()
			s := newTestSession(host, rec)

			if _, err := s.Scan(context.Background(), NewDeviceFilter(CH340)); !errors.Is(err, ErrNoMatchingDevice) {
				t.Errorf("Scan() error = %v, want ErrNoMatchingDevice", err)
			}

			err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig())
			if !errors.Is(err, ErrNoMatchingDevice) {
				t.Errorf("Connect() error = %v, want ErrNoMatchingDevice", err)
			}
			if s.State() != StateDisconnected {
				t.Errorf("State() = %v, want disconnected", s.State())
			}
			if got := rec.Events(); len(got) != 0 {
				t.Errorf("events = %v, want none", got)
			}
			if len(host.opened) != 0 {
				t.Errorf("opened %d ports, want 0", len(host.opened))
			}
		})
	}
}

func TestSessionScanDoesNotConnect(t *testing.T) {
	host := newFakeHost(ftdiPort, ch340Port)
	rec := newRecorder()
	s := newTestSession(host, rec)

	info, err := s.Scan(context.Background(), NewDeviceFilter(CH340, DeviceID{0x0403, 0x6001}))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if info.Path != ch340Port.Path {
		t.Errorf("Scan() = %s, want highest priority match %s", info.Path, ch340Port.Path)
	}
	if s.State() != StateDisconnected || len(host.opened) != 0 || len(rec.Events()) != 0 {
		t.Error("Scan() changed session state")
	}
}

func TestSessionScanPortsError(t *testing.T) {
	host := newFakeHost()
	host.portsErr = fmt.Errorf("%w: /dev", ErrPermissionDenied)
	s := newTestSession(host, newRecorder())

	err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Connect() error = %v, want ErrPermissionDenied", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
}

func TestSessionChooser(t *testing.T) {
	second := ch340Port
	second.Name, second.Path = "ttyUSB2", "/dev/ttyUSB2"

	t.Run("picks candidate", func(t *testing.T) {
		host := newFakeHost(onboard, ch340Port, second)
		var offered []PortInfo
		chooser := PortChooserFunc(func(ctx context.Context, candidates []PortInfo) (PortInfo, error) {
			offered = candidates
			return candidates[1], nil
		})
		s := newTestSession(host, newRecorder(), WithChooser(chooser))

		if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		defer s.Disconnect()

		if len(offered) != 2 {
			t.Errorf("chooser offered %d ports, want the 2 matches", len(offered))
		}
		if info, _ := s.Port(); info.Path != second.Path {
			t.Errorf("Port() = %s, want %s", info.Path, second.Path)
		}
	})

	t.Run("user cancels", func(t *testing.T) {
		host := newFakeHost(ch340Port)
		chooser := PortChooserFunc(func(ctx context.Context, candidates []PortInfo) (PortInfo, error) {
			return PortInfo{}, ErrUserCancelled
		})
		rec := newRecorder()
		s := newTestSession(host, rec, WithChooser(chooser))

		err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig())
		if !errors.Is(err, ErrUserCancelled) || !errors.Is(err, ErrNoMatchingDevice) {
			t.Errorf("Connect() error = %v, want ErrUserCancelled wrapping ErrNoMatchingDevice", err)
		}
		if s.State() != StateDisconnected || len(rec.Events()) != 0 {
			t.Error("cancelled selection changed session state")
		}
	})

	t.Run("chosen port outside filter", func(t *testing.T) {
		host := newFakeHost(ch340Port, ftdiPort)
		chooser := PortChooserFunc(func(ctx context.Context, candidates []PortInfo) (PortInfo, error) {
			return ftdiPort, nil
		})
		s := newTestSession(host, newRecorder(), WithChooser(chooser))

		if _, err := s.Scan(context.Background(), NewDeviceFilter(CH340)); !errors.Is(err, ErrNoMatchingDevice) {
			t.Errorf("Scan() error = %v, want ErrNoMatchingDevice", err)
		}
	})
}

func TestSessionOpenFailed(t *testing.T) {
	host := newFakeHost(ch340Port)
	host.openErr = fmt.Errorf("failed to open /dev/ttyUSB0: %w", ErrPermissionDenied)
	rec := newRecorder()
	s := newTestSession(host, rec)

	err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig())
	if !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Connect() error = %v, want ErrOpenFailed", err)
	}
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Connect() error = %v, want ErrPermissionDenied in chain", err)
	}
	if s.State() != StateDisconnected || len(rec.Events()) != 0 {
		t.Error("failed open changed session state")
	}
}

func TestSessionInvalidLink(t *testing.T) {
	host := newFakeHost(ch340Port)
	s := newTestSession(host, newRecorder())

	link := DefaultLinkConfig()
	link.BaudRate = 0
	err := s.Connect(context.Background(), NewDeviceFilter(CH340), link)
	if !errors.Is(err, ErrOpenFailed) || !errors.Is(err, ErrInvalidBaudRate) {
		t.Errorf("Connect() error = %v, want ErrOpenFailed wrapping ErrInvalidBaudRate", err)
	}
	if len(host.opened) != 0 {
		t.Error("port opened with an invalid link")
	}
}

func TestSessionInvalidLinkWhileConnected(t *testing.T) {
	host := newFakeHost(ch340Port)
	s := newTestSession(host, newRecorder())

	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Disconnect()

	link := DefaultLinkConfig()
	link.BaudRate = 0
	err := s.Connect(context.Background(), NewDeviceFilter(CH340), link)
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Connect() error = %v, want ErrAlreadyConnected", err)
	}
	if errors.Is(err, ErrOpenFailed) {
		t.Errorf("Connect() error = %v, must not report ErrOpenFailed", err)
	}
	if !s.IsConnected() {
		t.Error("IsConnected() = false after rejected Connect")
	}
}

func TestSessionOpenTimeout(t *testing.T) {
	host := newFakeHost(ch340Port)
	host.blockOpen = true
	s := newTestSession(host, newRecorder(), WithOpenTimeout(20*time.Millisecond))

	err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig())
	if !errors.Is(err, ErrOpenFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect() error = %v, want ErrOpenFailed wrapping DeadlineExceeded", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
}

func TestSessionDisconnectCancelsConnect(t *testing.T) {
	host := newFakeHost(ch340Port)
	host.blockOpen = true
	rec := newRecorder()
	s := newTestSession(host, rec, WithOpenTimeout(0))

	result := make(chan error, 1)
	go func() {
		result <- s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig())
	}()

	<-host.opening
	if s.State() != StateConnecting {
		t.Errorf("State() = %v, want connecting", s.State())
	}
	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrConnectCancelled) {
			t.Errorf("Connect() error = %v, want ErrConnectCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect() not cancelled by Disconnect")
	}
	if s.State() != StateDisconnected || len(rec.Events()) != 0 {
		t.Errorf("state %v events %v after cancelled connect", s.State(), rec.Events())
	}
}

func TestSessionReceive(t *testing.T) {
	host := newFakeHost(ch340Port)
	rec := newRecorder()
	s := newTestSession(host, rec)

	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	port := host.port(0)
	chunks := []string{"hel", "lo ", "wor", "ld"}
	for _, c := range chunks {
		port.reads <- []byte(c)
	}
	waitFor(t, "inbound data", func() bool { return rec.Data() == "hello world" })

	if stats := s.Stats(); stats.BytesRead != 11 {
		t.Errorf("Stats().BytesRead = %d, want 11", stats.BytesRead)
	}

	s.Disconnect()
	rec.waitDisconnected(t)
	rec.checkOrder(t)
}

func TestSessionReadFailure(t *testing.T) {
	host := newFakeHost(ch340Port)
	rec := newRecorder()
	s := newTestSession(host, rec)

	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	port := host.port(0)
	port.reads <- []byte("partial")
	waitFor(t, "inbound data", func() bool { return rec.Data() == "partial" })
	port.readErr <- errors.New("device unplugged")

	err := rec.waitDisconnected(t)
	if !errors.Is(err, ErrIO) {
		t.Errorf("OnDisconnected(%v), want ErrIO", err)
	}
	if s.IsConnected() {
		t.Error("IsConnected() = true after read failure")
	}
	if !port.isClosed() {
		t.Error("port left open after read failure")
	}
	if err := s.Write(context.Background(), []byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write() after failure error = %v, want ErrNotConnected", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Errorf("Disconnect() after failure error = %v", err)
	}
	if n := rec.count("disconnected"); n != 1 {
		t.Errorf("OnDisconnected called %d times, want 1", n)
	}
	rec.checkOrder(t)

	// the session is reusable
	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	if stats := s.Stats(); stats.Connects != 2 || stats.Disconnects != 1 {
		t.Errorf("Stats() = %+v, want 2 connects and 1 disconnect", stats)
	}
	s.Disconnect()
	rec.waitDisconnected(t)
	rec.checkOrder(t)
}

func TestSessionFarEndEOF(t *testing.T) {
	host := newFakeHost(ch340Port)
	rec := newRecorder()
	s := newTestSession(host, rec)

	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	host.port(0).readErr <- io.EOF

	err := rec.waitDisconnected(t)
	if !errors.Is(err, ErrIO) || !errors.Is(err, io.EOF) {
		t.Errorf("OnDisconnected(%v), want ErrIO wrapping io.EOF", err)
	}
}

func TestSessionWrite(t *testing.T) {
	host := newFakeHost(ch340Port)
	host.configure = func(p *fakePort) { p.maxWrite = 3 }
	s := newTestSession(host, newRecorder())

	if err := s.Write(context.Background(), []byte("early")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write() before Connect error = %v, want ErrNotConnected", err)
	}

	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Disconnect()

	if err := s.Write(context.Background(), []byte("AT+GMR\r\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := s.Write(context.Background(), nil); err != nil {
		t.Errorf("Write(nil) error = %v", err)
	}
	if got := string(host.port(0).Written()); got != "AT+GMR\r\n" {
		t.Errorf("written = %q, want %q", got, "AT+GMR\r\n")
	}
	if stats := s.Stats(); stats.BytesWritten != 8 {
		t.Errorf("Stats().BytesWritten = %d, want 8", stats.BytesWritten)
	}
}

func TestSessionConcurrentWritesDoNotInterleave(t *testing.T) {
	const (
		writers   = 8
		frameSize = 100
	)

	host := newFakeHost(ch340Port)
	host.configure = func(p *fakePort) { p.maxWrite = 7 }
	s := newTestSession(host, newRecorder())

	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Disconnect()

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(b byte) {
			defer wg.Done()
			if err := s.Write(context.Background(), bytes.Repeat([]byte{b}, frameSize)); err != nil {
				t.Errorf("Write(%c) error = %v", b, err)
			}
		}(byte('a' + i))
	}
	wg.Wait()

	written := host.port(0).Written()
	if len(written) != writers*frameSize {
		t.Fatalf("wrote %d bytes, want %d", len(written), writers*frameSize)
	}
	seen := make(map[byte]bool)
	for off := 0; off < len(written); off += frameSize {
		frame := written[off : off+frameSize]
		if !bytes.Equal(frame, bytes.Repeat(frame[:1], frameSize)) {
			t.Fatalf("frame at %d interleaved: %q", off, frame)
		}
		if seen[frame[0]] {
			t.Errorf("frame %c written twice", frame[0])
		}
		seen[frame[0]] = true
	}
}

func TestSessionWriteTimeout(t *testing.T) {
	host := newFakeHost(ch340Port)
	host.configure = func(p *fakePort) { p.blockWrites = true }
	rec := newRecorder()
	s := newTestSession(host, rec, WithWriteTimeout(20*time.Millisecond))

	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	err := s.Write(context.Background(), []byte("stuck"))
	if !errors.Is(err, ErrWriteTimeout) {
		t.Errorf("Write() error = %v, want ErrWriteTimeout", err)
	}

	cause := rec.waitDisconnected(t)
	if !errors.Is(cause, ErrIO) || !errors.Is(cause, ErrWriteTimeout) {
		t.Errorf("OnDisconnected(%v), want ErrIO wrapping ErrWriteTimeout", cause)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
}

func TestSessionWriteTimeoutStuckPort(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	host := newFakeHost(ch340Port)
	host.configure = func(p *fakePort) { p.release = release }
	rec := newRecorder()
	s := newTestSession(host, rec, WithWriteTimeout(50*time.Millisecond))

	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Write(context.Background(), []byte("stuck"))
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrWriteTimeout) {
			t.Errorf("Write() error = %v, want ErrWriteTimeout", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Write() still blocked after 1s; state=%v", s.State())
	}

	cause := rec.waitDisconnected(t)
	if !errors.Is(cause, ErrIO) || !errors.Is(cause, ErrWriteTimeout) {
		t.Errorf("OnDisconnected(%v), want ErrIO wrapping ErrWriteTimeout", cause)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
	if err := s.Write(context.Background(), []byte("next")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write() after teardown error = %v, want ErrNotConnected", err)
	}
}

func TestSessionDisconnectDuringWrite(t *testing.T) {
	tests := []struct {
		name      string
		configure func(p *fakePort, release chan struct{})
	}{
		{"close unblocks write", func(p *fakePort, _ chan struct{}) { p.blockWrites = true }},
		{"close ignored by write", func(p *fakePort, release chan struct{}) { p.release = release }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			release := make(chan struct{})
			defer close(release)

			host := newFakeHost(ch340Port)
			host.configure = func(p *fakePort) { tt.configure(p, release) }
			rec := newRecorder()
			s := newTestSession(host, rec)

			if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			port := host.port(0)

			done := make(chan error, 1)
			go func() {
				done <- s.Write(context.Background(), []byte("in flight"))
			}()
			select {
			case <-port.writing:
			case <-time.After(2 * time.Second):
				t.Fatal("Write() never reached the port")
			}

			if err := s.Disconnect(); err != nil {
				t.Errorf("Disconnect() error = %v", err)
			}

			select {
			case err := <-done:
				if !errors.Is(err, ErrNotConnected) {
					t.Errorf("Write() error = %v, want ErrNotConnected", err)
				}
			case <-time.After(time.Second):
				t.Fatal("Write() still blocked after Disconnect")
			}

			if err := rec.waitDisconnected(t); err != nil {
				t.Errorf("OnDisconnected(%v), want nil for requested disconnect", err)
			}
			if n := rec.count("disconnected"); n != 1 {
				t.Errorf("OnDisconnected called %d times, want 1", n)
			}
			if got := port.Written(); len(got) != 0 {
				t.Errorf("written = %q after close, want nothing", got)
			}
			if stats := s.Stats(); stats.BytesWritten != 0 {
				t.Errorf("Stats().BytesWritten = %d, want 0", stats.BytesWritten)
			}
			rec.checkOrder(t)
		})
	}
}

func TestSessionWriteContextPort(t *testing.T) {
	t.Run("write", func(t *testing.T) {
		host := newFakeHost(ch340Port)
		host.contextWrites = true
		host.configure = func(p *fakePort) { p.maxWrite = 4 }
		s := newTestSession(host, newRecorder())

		if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		defer s.Disconnect()

		if err := s.Write(context.Background(), []byte("AT+RST\r\n")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if got := string(host.port(0).Written()); got != "AT+RST\r\n" {
			t.Errorf("written = %q, want %q", got, "AT+RST\r\n")
		}
		if calls := host.contextPort(0).Calls(); calls != 2 {
			t.Errorf("WriteContext called %d times, want 2", calls)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		host := newFakeHost(ch340Port)
		host.contextWrites = true
		host.configure = func(p *fakePort) { p.blockWrites = true }
		rec := newRecorder()
		s := newTestSession(host, rec, WithWriteTimeout(20*time.Millisecond))

		if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}

		err := s.Write(context.Background(), []byte("stuck"))
		if !errors.Is(err, ErrWriteTimeout) {
			t.Errorf("Write() error = %v, want ErrWriteTimeout", err)
		}
		cause := rec.waitDisconnected(t)
		if !errors.Is(cause, ErrIO) || !errors.Is(cause, ErrWriteTimeout) {
			t.Errorf("OnDisconnected(%v), want ErrIO wrapping ErrWriteTimeout", cause)
		}
	})
}

func TestSessionWriteFromOnData(t *testing.T) {
	host := newFakeHost(ch340Port)
	rec := newRecorder()
	s := newTestSession(host, rec)
	rec.onData = func(p []byte) {
		if err := s.Write(context.Background(), p); err != nil {
			t.Errorf("echo Write() error = %v", err)
		}
	}

	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	port := host.port(0)
	port.reads <- []byte("echo")
	waitFor(t, "echo", func() bool { return string(port.Written()) == "echo" })

	s.Disconnect()
	rec.waitDisconnected(t)
}

func TestSessionNoDataAfterDisconnect(t *testing.T) {
	host := newFakeHost(ch340Port)
	rec := newRecorder()
	s := newTestSession(host, rec)

	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	port := host.port(0)
	for i := 0; i < 32; i++ {
		port.reads <- []byte{byte(i)}
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	rec.waitDisconnected(t)

	events := rec.Events()
	if events[len(events)-1] != "disconnected" {
		t.Errorf("last event = %s, want disconnected", events[len(events)-1])
	}
	rec.checkOrder(t)
}

func TestSessionLogsConnectionID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	host := newFakeHost(ch340Port)
	rec := newRecorder()
	s := newTestSession(host, rec, WithLogger(zap.New(core)))

	if err := s.Connect(context.Background(), NewDeviceFilter(CH340), DefaultLinkConfig()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	s.Disconnect()
	rec.waitDisconnected(t)

	opened := logs.FilterMessage("Serial port opened successfully").All()
	closed := logs.FilterMessage("Serial port closed").All()
	if len(opened) != 1 || len(closed) != 1 {
		t.Fatalf("got %d open and %d close entries, want 1 each", len(opened), len(closed))
	}
	openID := opened[0].ContextMap()["conn_id"]
	if openID == nil || openID == "" {
		t.Fatal("open entry has no conn_id")
	}
	if closed[0].ContextMap()["conn_id"] != openID {
		t.Errorf("conn_id changed between open (%v) and close (%v)", openID, closed[0].ContextMap()["conn_id"])
	}
	if opened[0].ContextMap()["device"] != "test-device" {
		t.Errorf("device = %v, want test-device", opened[0].ContextMap()["device"])
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		State(7):          "State(7)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(state), got, want)
		}
	}
}
