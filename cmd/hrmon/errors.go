package main

import (
	"errors"
	"fmt"

	"github.com/srg/hrmon/internal/device"
)

// Command-level errors
var (
	// ErrDeviceNotFound indicates the scan window ended without a device matching
	// the requested name.
	ErrDeviceNotFound = errors.New("device not found")
)

// FormatUserError turns radio and connection sentinels into a message a user can
// act on. Other errors are printed as they are.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrUnsupportedTransport):
		return "Bluetooth is not supported on this system for the selected transport"
	case errors.Is(err, device.ErrRadioDisabled):
		return "Bluetooth is turned off. Turn it on and try again"
	case errors.Is(err, device.ErrPermissionDenied):
		return "Bluetooth access was denied. Run with CAP_NET_ADMIN or grant Bluetooth permission"
	case errors.Is(err, ErrDeviceNotFound):
		return fmt.Sprintf("%v. Make sure the strap is worn and advertising", err)
	case errors.Is(err, device.ErrConnectionLost):
		return fmt.Sprintf("%v. The device went out of range or was switched off", err)
	case errors.Is(err, device.ErrServiceDiscoveryFailed):
		return fmt.Sprintf("%v. Try again; if it persists, remove the pairing and reconnect", err)
	}
	return err.Error()
}
