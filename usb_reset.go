package serial

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// reenumerationDelay is how long a reset USB device typically takes to come back
var reenumerationDelay = 2 * time.Second

// usbresetBinary is the usbreset executable, looked up in PATH unless it contains a slash
var usbresetBinary = "usbreset"

// ResetUSBDevice performs a USB-level reset of the device behind portPath.
// This can recover a bridge that stopped responding.
//
// Requires the usbreset utility from usbutils and, usually, root.
// Returns ErrUSBInfoNotAvailable for non-USB ports and ErrUSBResetNotAvailable
// when usbreset is missing.
func ResetUSBDevice(ctx context.Context, portPath string) error {
	info, err := GetPortInfo(portPath)
	if err != nil {
		return fmt.Errorf("failed to get port info: %w", err)
	}
	return resetPort(ctx, info)
}

// ResetMatchingDevice resets the highest priority USB device matching filter
func ResetMatchingDevice(ctx context.Context, filter DeviceFilter) (PortInfo, error) {
	ports, err := ListPortInfo()
	if err != nil {
		return PortInfo{}, err
	}
	matches := filter.Select(ports)
	if len(matches) == 0 {
		return PortInfo{}, fmt.Errorf("%w: %s", ErrNoMatchingDevice, filter)
	}
	info := matches[0]
	return info, resetPort(ctx, &info)
}

func resetPort(ctx context.Context, info *PortInfo) error {
	address, err := usbAddress(info)
	if err != nil {
		return err
	}

	if !IsUSBResetAvailable() {
		return ErrUSBResetNotAvailable
	}

	cmd := exec.CommandContext(ctx, usbresetBinary, address)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("usbreset %s failed: %w (output: %s)", address, err, strings.TrimSpace(string(output)))
	}

	// Wait for the device to re-enumerate
	select {
	case <-time.After(reenumerationDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsUSBResetAvailable checks if usbreset utility is available in PATH
func IsUSBResetAvailable() bool {
	_, err := exec.LookPath(usbresetBinary)
	return err == nil
}
