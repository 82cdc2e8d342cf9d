package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/device"
	"github.com/srg/hrmon/internal/groutine"
)

// gattClient is the part of ble.Client the link drives.
type gattClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteDescriptor(d *ble.Descriptor, v []byte) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

type charKey struct {
	service uuid.UUID
	char    uuid.UUID
}

// link is a live go-ble connection implementing device.Link.
type link struct {
	address  string
	client   gattClient
	onNotify device.NotificationHandler
	logger   *logrus.Logger

	connMutex sync.RWMutex
	chars     map[charKey]*ble.Characteristic

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func newLink(address string, client gattClient, onNotify device.NotificationHandler, logger *logrus.Logger) *link {
	l := &link{
		address:  address,
		client:   client,
		onNotify: onNotify,
		logger:   logger,
		chars:    make(map[charKey]*ble.Characteristic),
		done:     make(chan struct{}),
	}

	// go-ble reports remote disconnects on Disconnected() where the platform supports it
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-connection-monitor", func(ctx context.Context) {
			select {
			case <-dc.Disconnected():
				l.logger.WithField("address", address).Warn("BLE stack reported disconnection")
				l.markClosed()
			case <-l.done:
			}
		})
	} else {
		l.logger.Debug("Client does not support Disconnected() channel")
	}

	return l
}

func (l *link) Address() string { return l.address }

func (l *link) Disconnected() <-chan struct{} { return l.done }

func (l *link) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// DiscoverServices runs full profile discovery and returns services in the order
// the peripheral reported them.
func (l *link) DiscoverServices(ctx context.Context) ([]*device.ServiceDescriptor, error) {
	if l.isClosed() {
		return nil, device.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.logger.WithField("address", l.address).Debug("Discovering services and characteristics...")
	profile, err := l.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	l.connMutex.Lock()
	defer l.connMutex.Unlock()

	clear(l.chars)

	services := make([]*device.ServiceDescriptor, 0, len(profile.Services))
	total := 0
	for _, bleSvc := range profile.Services {
		svcUUID, err := device.ParseUUID(bleSvc.UUID.String())
		if err != nil {
			l.logger.WithField("service_uuid", bleSvc.UUID.String()).Warn("Skipping service with unparseable UUID")
			continue
		}
		svc := device.NewServiceDescriptor(svcUUID)

		for _, bleChar := range bleSvc.Characteristics {
			charUUID, err := device.ParseUUID(bleChar.UUID.String())
			if err != nil {
				l.logger.WithField("char_uuid", bleChar.UUID.String()).Warn("Skipping characteristic with unparseable UUID")
				continue
			}
			svc.AddCharacteristic(charUUID, device.Properties(bleChar.Property))
			key := charKey{service: svcUUID, char: charUUID}
			if _, exists := l.chars[key]; !exists {
				l.chars[key] = bleChar
				total++
			}
		}
		services = append(services, svc)
	}

	l.logger.WithFields(logrus.Fields{
		"address":         l.address,
		"services":        len(services),
		"characteristics": total,
	}).Info("Profile discovered successfully")

	return services, nil
}

func (l *link) lookup(char *device.CharacteristicDescriptor) (*ble.Characteristic, error) {
	if l.isClosed() {
		return nil, device.ErrNotConnected
	}
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()

	bleChar, ok := l.chars[charKey{service: char.Service, char: char.UUID}]
	if !ok {
		return nil, &device.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{device.ShortUUID(char.Service), device.ShortUUID(char.UUID)},
		}
	}
	return bleChar, nil
}

func (l *link) ReadCharacteristic(ctx context.Context, char *device.CharacteristicDescriptor) ([]byte, error) {
	bleChar, err := l.lookup(char)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := l.client.ReadCharacteristic(bleChar)
	if err != nil {
		return nil, NormalizeError(err)
	}
	return data, nil
}

// WriteDescriptor writes a descriptor value. A CCCD write is routed through go-ble
// Subscribe/Unsubscribe so notifications are delivered to onNotify.
func (l *link) WriteDescriptor(ctx context.Context, char *device.CharacteristicDescriptor, descriptor uuid.UUID, value []byte) error {
	bleChar, err := l.lookup(char)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if descriptor == device.ClientCharacteristicConfig {
		return l.writeClientConfig(char, bleChar, value)
	}

	for _, d := range bleChar.Descriptors {
		u, err := device.ParseUUID(d.UUID.String())
		if err == nil && u == descriptor {
			return NormalizeError(l.client.WriteDescriptor(d, value))
		}
	}
	return &device.NotFoundError{
		Resource: "descriptor",
		UUIDs:    []string{device.ShortUUID(char.UUID), device.ShortUUID(descriptor)},
	}
}

func (l *link) writeClientConfig(char *device.CharacteristicDescriptor, bleChar *ble.Characteristic, value []byte) error {
	cfg, err := device.ParseClientConfig(value)
	if err != nil {
		return err
	}

	if !cfg.Notifications && !cfg.Indications {
		// Clear both modes; only fail when neither unsubscribe succeeded
		err1 := NormalizeError(l.client.Unsubscribe(bleChar, false))
		err2 := NormalizeError(l.client.Unsubscribe(bleChar, true))
		if err1 != nil && err2 != nil {
			return err1
		}
		return nil
	}

	handler := func(data []byte) {
		if l.onNotify == nil || l.isClosed() {
			return
		}
		payload := make([]byte, len(data))
		copy(payload, data)
		l.onNotify(char, payload)
	}

	if err := NormalizeError(l.client.Subscribe(bleChar, !cfg.Notifications, handler)); err != nil {
		l.logger.WithFields(logrus.Fields{
			"char_uuid": device.ShortUUID(char.UUID),
			"error":     err,
		}).Error("Failed to subscribe to characteristic notifications")
		return err
	}

	l.logger.WithField("char_uuid", device.ShortUUID(char.UUID)).Debug("Subscribed to characteristic notifications")
	return nil
}

func (l *link) markClosed() {
	l.doneOnce.Do(func() { close(l.done) })
}

// Close cancels the connection. Safe to call more than once and after a remote drop.
func (l *link) Close() error {
	l.closeOnce.Do(func() {
		l.markClosed()
		if err := l.client.CancelConnection(); err != nil {
			l.closeErr = NormalizeError(err)
			l.logger.WithField("error", l.closeErr).Warn("BLE device disconnected with errors")
			return
		}
		l.logger.WithField("address", l.address).Info("BLE device disconnected")
	})
	return l.closeErr
}
