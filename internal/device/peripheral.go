package device

import (
	"fmt"
	"strings"
)

// PeripheralHandle identifies a discovered peripheral. It is a value type and is
// immutable once created.
type PeripheralHandle struct {
	id      string
	name    string
	address string
	kind    Kind
	rssi    int
}

// NewPeripheralHandle creates a handle. The ID is derived from the address so two
// discovery events for the same device produce equal IDs.
func NewPeripheralHandle(kind Kind, name, address string) PeripheralHandle {
	return PeripheralHandle{
		id:      string(kind) + "/" + strings.ToUpper(strings.TrimSpace(address)),
		name:    name,
		address: address,
		kind:    kind,
	}
}

// PeripheralFromAdvertisement creates a handle from a discovery event.
func PeripheralFromAdvertisement(kind Kind, adv Advertisement) PeripheralHandle {
	h := NewPeripheralHandle(kind, adv.LocalName(), adv.Addr())
	h.rssi = adv.RSSI()
	return h
}

func (h PeripheralHandle) ID() string      { return h.id }
func (h PeripheralHandle) Name() string    { return h.name }
func (h PeripheralHandle) Address() string { return h.address }
func (h PeripheralHandle) Kind() Kind      { return h.kind }
func (h PeripheralHandle) RSSI() int       { return h.rssi }

// IsZero reports whether the handle was never initialised.
func (h PeripheralHandle) IsZero() bool {
	return h.address == ""
}

func (h PeripheralHandle) String() string {
	if h.name == "" {
		return fmt.Sprintf("%s (%s)", h.address, h.kind)
	}
	return fmt.Sprintf("%s [%s] (%s)", h.name, h.address, h.kind)
}
