package serial

import (
	"context"
	"io"
)

// Host enumerates and opens serial ports on behalf of a Session.
type Host interface {
	// Ports lists the ports currently present, in a stable order.
	Ports(ctx context.Context) ([]PortInfo, error)
	// Open opens path with link applied. Implementations must honour ctx and must not
	// leak a port whose open completes after ctx is done.
	Open(ctx context.Context, path string, link LinkConfig) (io.ReadWriteCloser, error)
}

// PortChooser asks the user which of the matching ports may be used.
// Returning ErrUserCancelled means the user declined; it is not fatal.
type PortChooser interface {
	Choose(ctx context.Context, candidates []PortInfo) (PortInfo, error)
}

// PortChooserFunc adapts a function to PortChooser.
type PortChooserFunc func(ctx context.Context, candidates []PortInfo) (PortInfo, error)

func (f PortChooserFunc) Choose(ctx context.Context, candidates []PortInfo) (PortInfo, error) {
	return f(ctx, candidates)
}

// SystemHost is the Linux host: /dev and sysfs for discovery, termios for open.
type SystemHost struct{}

var _ Host = SystemHost{}

func (SystemHost) Ports(ctx context.Context) ([]PortInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ListPortInfo()
}

func (SystemHost) Open(ctx context.Context, path string, link LinkConfig) (io.ReadWriteCloser, error) {
	return OpenContext(ctx, func() (io.ReadWriteCloser, error) {
		return OpenLink(path, link)
	})
}

// OpenContext runs a blocking open in the background and gives up when ctx is done.
// A port that finishes opening after the caller gave up is closed.
func OpenContext(ctx context.Context, open func() (io.ReadWriteCloser, error)) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type openResult struct {
		port io.ReadWriteCloser
		err  error
	}
	resultCh := make(chan openResult, 1)

	go func() {
		p, err := open()
		resultCh <- openResult{port: p, err: err}
	}()

	select {
	case result := <-resultCh:
		return result.port, result.err
	case <-ctx.Done():
		go func() {
			if result := <-resultCh; result.err == nil {
				result.port.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
