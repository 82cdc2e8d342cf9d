// Package devicefactory selects the transport variant named in the configuration.
package devicefactory

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/device"
	goble "github.com/srg/hrmon/internal/device/go-ble"
	"github.com/srg/hrmon/internal/device/rfcomm"
	"github.com/srg/hrmon/pkg/config"
)

// TransportFactory creates the transport for cfg.
// This is a variable so that it can be overridden in tests.
var TransportFactory = New

// New creates the device.Transport variant selected by cfg.Transport. The
// transport opens the host radio lazily; construction never touches hardware.
func New(cfg *config.Config, logger *logrus.Logger) (device.Transport, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	switch strings.ToLower(cfg.Transport) {
	case config.TransportBLE:
		logger.WithField("adapter", cfg.Adapter).Debug("Using BLE GATT transport")
		return goble.New(cfg.Adapter, logger), nil
	case config.TransportClassic:
		logger.WithFields(logrus.Fields{
			"adapter": cfg.Adapter,
			"channel": cfg.RFCOMMChannel,
		}).Debug("Using classic RFCOMM transport")
		return rfcomm.New(cfg.Adapter, cfg.RFCOMMChannel, logger), nil
	default:
		return nil, fmt.Errorf("transport %q: %w", cfg.Transport, device.ErrUnsupportedTransport)
	}
}
