package serial

import (
	"errors"
	"fmt"
)

// Predefined error types for robust error handling
var (
	ErrDeviceNotFound   = errors.New("serial device not found")
	ErrPermissionDenied = errors.New("permission denied accessing serial device")
	ErrDeviceInUse      = errors.New("serial device already in use")
	ErrInvalidBaudRate  = errors.New("invalid baud rate")
	ErrInvalidConfig    = errors.New("invalid serial configuration")
	ErrPortClosed       = errors.New("serial port is closed")
	ErrWriteTimeout     = errors.New("write operation timed out")
	ErrReadTimeout      = errors.New("read operation timed out")

	// Session errors
	ErrNoMatchingDevice = errors.New("no serial device matches the filter")
	ErrOpenFailed       = errors.New("failed to open serial device")
	ErrIO               = errors.New("serial I/O error")
	ErrNotConnected     = errors.New("session is not connected")
	ErrAlreadyConnected = errors.New("session is already connected or connecting")
	ErrConnectCancelled = errors.New("connect cancelled")

	// ErrUserCancelled is returned when the user dismisses the port prompt.
	// It is a NotFound outcome: errors.Is(err, ErrNoMatchingDevice) holds.
	ErrUserCancelled = fmt.Errorf("%w: port selection cancelled by user", ErrNoMatchingDevice)

	// USB-related errors
	ErrUSBInfoNotAvailable  = errors.New("USB device information not available")
	ErrUSBResetNotAvailable = errors.New("usbreset utility not available")
)
