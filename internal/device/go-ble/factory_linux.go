//go:build linux

package goble

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// newHostDevice opens the HCI adapter named like "hci0".
func newHostDevice(adapter string) (ble.Device, error) {
	if adapter == "" {
		return linux.NewDevice()
	}
	id, err := strconv.Atoi(strings.TrimPrefix(adapter, "hci"))
	if err != nil {
		return nil, fmt.Errorf("invalid adapter name %q: %w", adapter, err)
	}
	return linux.NewDevice(ble.OptDeviceID(id))
}
