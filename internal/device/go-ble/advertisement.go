package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/hrmon/internal/device"
)

// bleAdvertisement is the part of ble.Advertisement the scanner consumes.
type bleAdvertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Connectable() bool
	RSSI() int
	Addr() ble.Addr
}

// Advertisement wraps ble.Advertisement to implement device.Advertisement
type Advertisement struct {
	adv bleAdvertisement
}

// NewAdvertisement creates a new Advertisement wrapper
func NewAdvertisement(adv bleAdvertisement) device.Advertisement {
	return &Advertisement{adv: adv}
}

func (a *Advertisement) LocalName() string        { return a.adv.LocalName() }
func (a *Advertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a *Advertisement) Connectable() bool        { return a.adv.Connectable() }
func (a *Advertisement) RSSI() int                { return a.adv.RSSI() }

func (a *Advertisement) Addr() string {
	if addr := a.adv.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}
