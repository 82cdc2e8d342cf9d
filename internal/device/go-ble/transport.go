// Package goble implements the BLE GATT transport on top of go-ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/device"
)

// HostDevice is the part of ble.Device the transport drives.
type HostDevice interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
}

// DeviceFactory creates the host BLE device for an adapter (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(adapter string) (HostDevice, error) {
	dev, err := newHostDevice(adapter)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Transport is the BLE GATT variant of device.Transport.
//
// The host device is opened lazily on first use and the outcome is cached; radio
// capability queries report from that outcome and never block.
type Transport struct {
	adapter string
	logger  *logrus.Logger

	initOnce sync.Once
	dev      HostDevice
	initErr  error
}

// New creates a BLE transport bound to the given adapter ("" selects the default).
func New(adapter string, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{adapter: adapter, logger: logger}
}

func (t *Transport) init() {
	t.initOnce.Do(func() {
		dev, err := DeviceFactory(t.adapter)
		if err != nil {
			t.initErr = NormalizeError(err)
			t.logger.WithFields(logrus.Fields{
				"adapter": t.adapter,
				"error":   t.initErr,
			}).Warn("Failed to open BLE host device")
			return
		}
		t.dev = dev
		t.logger.WithField("adapter", t.adapter).Debug("BLE host device opened")
	})
}

func (t *Transport) Kind() device.Kind { return device.KindBLE }

// Supported reports whether a BLE host device exists.
func (t *Transport) Supported() bool {
	t.init()
	return !errors.Is(t.initErr, device.ErrUnsupportedTransport)
}

// Enabled reports whether the radio is powered.
func (t *Transport) Enabled() bool {
	t.init()
	return !errors.Is(t.initErr, device.ErrRadioDisabled)
}

// Permitted reports whether the process may use the radio.
func (t *Transport) Permitted() bool {
	t.init()
	return !errors.Is(t.initErr, device.ErrPermissionDenied)
}

func (t *Transport) device() (HostDevice, error) {
	t.init()
	if t.initErr != nil {
		return nil, t.initErr
	}
	return t.dev, nil
}

// Scan reports advertisements until ctx is done. Duplicates are reported.
func (t *Transport) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	err = dev.Scan(ctx, true, func(adv ble.Advertisement) {
		handler(NewAdvertisement(adv))
	})
	if err != nil && device.IsCancellation(err) && ctx.Err() != nil {
		return nil
	}
	return NormalizeError(err)
}

// Dial connects to address and returns the GATT link.
func (t *Transport) Dial(ctx context.Context, address string, onNotify device.NotificationHandler) (device.Link, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	t.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	return newLink(address, client, onNotify, t.logger), nil
}
