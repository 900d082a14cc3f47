// Package bugst is a serial.Host backed by go.bug.st/serial.
//
// It trades the sysfs details of serial.SystemHost (bus/device numbers, interface
// number, manufacturer) for the portability of go.bug.st/serial's enumerator.
package bugst

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	bugserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	serial "github.com/allbin/serial-session"
)

// listPorts is the enumerator entry point; replaced in tests
var listPorts = enumerator.GetDetailedPortsList

// Host enumerates and opens ports through go.bug.st/serial
type Host struct {
	logger *zap.Logger
}

var _ serial.Host = (*Host)(nil)

// NewHost returns a Host logging through logger; nil discards logs
func NewHost(logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{logger: logger.With(zap.String("backend", "bugst"))}
}

// Ports lists the ports reported by the enumerator, sorted by path
func (h *Host) Ports(ctx context.Context) ([]serial.PortInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	details, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate ports: %w", mapError(err))
	}

	infos := make([]serial.PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		infos = append(infos, portInfo(d))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })

	h.logger.Debug("Enumerated serial ports", zap.Int("count", len(infos)))
	return infos, nil
}

func portInfo(d *enumerator.PortDetails) serial.PortInfo {
	info := serial.PortInfo{
		Name:        filepath.Base(d.Name),
		Path:        d.Name,
		Description: "Serial Port",
	}
	if d.IsUSB {
		info.VendorID = strings.ToLower(d.VID)
		info.ProductID = strings.ToLower(d.PID)
		info.SerialNumber = d.SerialNumber
		info.Product = d.Product
		info.Description = "USB Serial Port"
		if d.Product != "" {
			info.Description = d.Product
		}
	}
	return info
}

// Open opens path with link applied. The open honours ctx via serial.OpenContext.
func (h *Host) Open(ctx context.Context, path string, link serial.LinkConfig) (io.ReadWriteCloser, error) {
	if err := link.Validate(); err != nil {
		return nil, err
	}
	mode, err := toMode(link)
	if err != nil {
		return nil, err
	}

	return serial.OpenContext(ctx, func() (io.ReadWriteCloser, error) {
		p, err := bugserial.Open(path, mode)
		if err != nil {
			h.logger.Error("Failed to open serial port", zap.Error(err), zap.String("port", path))
			return nil, fmt.Errorf("failed to open %s: %w", path, mapError(err))
		}

		if link.ReadTimeout > 0 {
			if err := p.SetReadTimeout(link.ReadTimeout); err != nil {
				p.Close()
				return nil, fmt.Errorf("failed to set read timeout: %w", mapError(err))
			}
		}

		h.logger.Debug("Serial port opened",
			zap.String("port", path),
			zap.Stringer("link", link),
		)
		return &port{p: p, synced: link.WriteMode == serial.WriteModeSynced}, nil
	})
}

// toMode converts a LinkConfig to the go.bug.st/serial mode
func toMode(link serial.LinkConfig) (*bugserial.Mode, error) {
	mode := &bugserial.Mode{
		BaudRate: link.BaudRate,
		DataBits: link.DataBits,
		InitialStatusBits: &bugserial.ModemOutputBits{
			RTS: link.RTS,
			DTR: link.DTR,
		},
	}

	switch link.StopBits {
	case 1:
		mode.StopBits = bugserial.OneStopBit
	case 2:
		mode.StopBits = bugserial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: stop bits %d", serial.ErrInvalidConfig, link.StopBits)
	}

	switch link.Parity {
	case serial.ParityNone:
		mode.Parity = bugserial.NoParity
	case serial.ParityOdd:
		mode.Parity = bugserial.OddParity
	case serial.ParityEven:
		mode.Parity = bugserial.EvenParity
	case serial.ParityMark:
		mode.Parity = bugserial.MarkParity
	case serial.ParitySpace:
		mode.Parity = bugserial.SpaceParity
	default:
		return nil, fmt.Errorf("%w: parity %d", serial.ErrInvalidConfig, link.Parity)
	}

	return mode, nil
}

// mapError translates go.bug.st/serial error codes into the serial sentinels
func mapError(err error) error {
	var portErr *bugserial.PortError
	if !errors.As(err, &portErr) {
		return err
	}

	switch portErr.Code() {
	case bugserial.PermissionDenied:
		return fmt.Errorf("%w: %w", serial.ErrPermissionDenied, err)
	case bugserial.PortBusy:
		return fmt.Errorf("%w: %w", serial.ErrDeviceInUse, err)
	case bugserial.PortNotFound:
		return fmt.Errorf("%w: %w", serial.ErrDeviceNotFound, err)
	case bugserial.PortClosed:
		return serial.ErrPortClosed
	case bugserial.InvalidSpeed:
		return fmt.Errorf("%w: %w", serial.ErrInvalidBaudRate, err)
	case bugserial.InvalidDataBits, bugserial.InvalidParity, bugserial.InvalidStopBits:
		return fmt.Errorf("%w: %w", serial.ErrInvalidConfig, err)
	default:
		return err
	}
}

// port adapts bugserial.Port to io.ReadWriteCloser with mapped errors
type port struct {
	p      bugserial.Port
	synced bool
}

func (p *port) Read(buf []byte) (int, error) {
	n, err := p.p.Read(buf)
	return n, mapError(err)
}

// Write writes buf; in synced mode it waits for transmission like O_SYNC does
func (p *port) Write(buf []byte) (int, error) {
	n, err := p.p.Write(buf)
	if err != nil {
		return n, mapError(err)
	}
	if p.synced {
		if err := p.p.Drain(); err != nil {
			return n, mapError(err)
		}
	}
	return n, nil
}

func (p *port) Close() error {
	return mapError(p.p.Close())
}
