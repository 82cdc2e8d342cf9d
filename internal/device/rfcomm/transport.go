// Package rfcomm implements the classic Bluetooth transport: BlueZ inquiry over
// D-Bus for discovery and an RFCOMM serial socket for data.
package rfcomm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/device"
)

// BackendFactory creates the discovery backend for an adapter (can be overridden in tests)
//
//nolint:revive // name is intentional for test mocking
var BackendFactory = newBluezBackend

// SocketDialer opens the RFCOMM stream (can be overridden in tests)
var SocketDialer = dialSocket

// SocketProbe checks whether RFCOMM sockets may be created (can be overridden in tests)
var SocketProbe = probeSocket

// Transport is the classic RFCOMM variant of device.Transport.
type Transport struct {
	adapter string
	channel uint8
	logger  *logrus.Logger

	initOnce sync.Once
	backend  Backend
	initErr  error
}

// New creates a classic transport on adapter (e.g. "hci0") that connects to the
// given RFCOMM channel.
func New(adapter string, channel uint8, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if adapter == "" {
		adapter = "hci0"
	}
	return &Transport{adapter: adapter, channel: channel, logger: logger}
}

func (t *Transport) init() {
	t.initOnce.Do(func() {
		t.backend, t.initErr = BackendFactory(t.adapter, t.logger)
		if t.initErr != nil {
			t.logger.WithFields(logrus.Fields{
				"adapter": t.adapter,
				"error":   t.initErr,
			}).Warn("Failed to open BlueZ backend")
		}
	})
}

func (t *Transport) Kind() device.Kind { return device.KindClassic }

// Supported reports whether the adapter is known to BlueZ.
func (t *Transport) Supported() bool {
	t.init()
	if t.initErr != nil {
		return false
	}
	_, err := t.backend.Powered()
	return err == nil
}

// Enabled reports whether the adapter is powered.
func (t *Transport) Enabled() bool {
	t.init()
	if t.initErr != nil {
		return false
	}
	powered, err := t.backend.Powered()
	return err == nil && powered
}

// Permitted reports whether the process may open RFCOMM sockets.
func (t *Transport) Permitted() bool {
	return SocketProbe() == nil
}

// Scan runs classic inquiry until ctx is done.
func (t *Transport) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	t.init()
	if t.initErr != nil {
		return t.initErr
	}
	return t.backend.Discover(ctx, handler)
}

// Dial opens the serial socket. onNotify receives one call per received line once
// the serial characteristic's client configuration is enabled.
func (t *Transport) Dial(ctx context.Context, address string, onNotify device.NotificationHandler) (device.Link, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	t.logger.WithFields(logrus.Fields{
		"address": address,
		"channel": t.channel,
	}).Debug("Dialing RFCOMM device...")

	conn, err := SocketDialer(ctx, address, t.channel)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, err)
	}

	t.logger.WithField("address", address).Info("RFCOMM device connected")
	return newLink(address, conn, onNotify, t.logger), nil
}
