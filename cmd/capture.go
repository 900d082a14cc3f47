/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	serial "github.com/allbin/serial-session"
)

// captureCmd represents the capture command
var captureCmd = &cobra.Command{
	Use:   "capture <output-file>",
	Short: "Capture data from the configured device to a file",
	Long: `Capture incoming data from the configured device to a file for later parsing.

The output file is opened in append mode, allowing you to resume captures
without overwriting existing data. Runs until interrupted (Ctrl+C). With
--reconnect a lost or missing device is retried after the given delay instead
of ending the capture.

Example usage:
  serial capture data.log
  serial capture data.log --console
  serial capture data.log -d 0403:6001 --baud 9600 --reconnect 2s`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		showConsole, _ := cmd.Flags().GetBool("console")
		reconnect, _ := cmd.Flags().GetDuration("reconnect")

		file, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open output file: %w", err)
		}
		defer file.Close()

		var console io.Writer
		if showConsole {
			console = cmd.OutOrStdout()
		}
		return runCapture(cmd.Context(), cmd.ErrOrStderr(), newCaptureSink(file, console), reconnect)
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().BoolP("console", "c", false, "Display incoming data on console while capturing")
	captureCmd.Flags().DurationP("reconnect", "r", 0, "Retry delay after the device is lost (0 ends the capture)")
}

// captureSink is the session controller for capture: data goes to the file,
// link failures go to lost.
type captureSink struct {
	file    io.Writer
	console io.Writer
	lost    chan error

	mu       sync.Mutex
	written  int64
	writeErr error
}

var _ serial.Controller = (*captureSink)(nil)

func newCaptureSink(file, console io.Writer) *captureSink {
	return &captureSink{
		file:    file,
		console: console,
		lost:    make(chan error, 1),
	}
}

func (s *captureSink) OnConnected() {}

func (s *captureSink) OnData(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return
	}
	n, err := s.file.Write(p)
	s.written += int64(n)
	if err != nil {
		s.writeErr = err
		s.signal(fmt.Errorf("write error: %w", err))
		return
	}
	if s.console != nil {
		_, _ = s.console.Write(p)
	}
}

func (s *captureSink) OnDisconnected(err error) {
	if err != nil {
		s.signal(err)
	}
}

func (s *captureSink) signal(err error) {
	select {
	case s.lost <- err:
	default:
	}
}

func (s *captureSink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *captureSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeErr
}

// retryable reports whether a capture should wait and connect again after err
func retryable(err error) bool {
	return errors.Is(err, serial.ErrNoMatchingDevice) ||
		errors.Is(err, serial.ErrOpenFailed) ||
		errors.Is(err, serial.ErrIO)
}

func runCapture(ctx context.Context, status io.Writer, sink *captureSink, reconnect time.Duration) error {
	t, err := loadTarget()
	if err != nil {
		return err
	}
	session := newSession(sink)
	start := time.Now()

	defer func() {
		_ = session.Disconnect()
		fmt.Fprintf(status, "\nCapture complete: %d bytes written in %v\n",
			sink.Written(), time.Since(start).Round(time.Millisecond))
	}()

	for {
		err := session.Connect(ctx, t.filter, t.link)
		if err == nil {
			info, _ := session.Port()
			fmt.Fprintf(status, "Capturing data from %s\nPress Ctrl+C to stop\n\n", info.Path)

			select {
			case <-ctx.Done():
				return nil
			case err = <-sink.lost:
			}
			// a lost link leaves the session disconnected, a file error does not
			_ = session.Disconnect()
			if sink.Err() != nil {
				return err
			}
		}

		if ctx.Err() != nil {
			return nil
		}
		if reconnect <= 0 || !retryable(err) {
			return err
		}

		logger.Warn("Device unavailable, retrying", zap.Error(err), zap.Duration("delay", reconnect))
		fmt.Fprintf(status, "%v; retrying in %v\n", err, reconnect)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnect):
		}
	}
}
