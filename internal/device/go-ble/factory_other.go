//go:build !darwin && !linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/hrmon/internal/device"
)

func newHostDevice(string) (ble.Device, error) {
	return nil, device.ErrUnsupportedTransport
}
