//go:build !linux

package rfcomm

import (
	"context"
	"io"

	"github.com/srg/hrmon/internal/device"
)

func dialSocket(context.Context, string, uint8) (io.ReadWriteCloser, error) {
	return nil, device.ErrUnsupportedTransport
}

func probeSocket() error {
	return device.ErrUnsupportedTransport
}
