package device

import (
	"context"

	"github.com/google/uuid"
)

// Kind names a transport variant.
type Kind string

const (
	KindBLE     Kind = "ble"
	KindClassic Kind = "classic"
)

// Advertisement is a single discovery event reported by a transport scan
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
	ManufacturerData() []byte
}

// Radio exposes the synchronous, non-blocking capability queries of the host radio.
type Radio interface {
	Supported() bool
	Enabled() bool
	Permitted() bool
}

// CheckRadio maps the radio capability queries onto the error taxonomy.
// The order matters: an absent radio is never reported as disabled.
func CheckRadio(r Radio) error {
	switch {
	case r == nil || !r.Supported():
		return ErrUnsupportedTransport
	case !r.Enabled():
		return ErrRadioDisabled
	case !r.Permitted():
		return ErrPermissionDenied
	}
	return nil
}

// NotificationHandler receives characteristic values pushed by the peripheral.
// It is invoked on a transport-owned goroutine.
type NotificationHandler func(char *CharacteristicDescriptor, payload []byte)

// Transport is the capability contract a transport variant (BLE GATT or classic
// RFCOMM) provides. All methods are blocking; callers that need fire-and-forget
// semantics run them on their own goroutines.
type Transport interface {
	Radio

	Kind() Kind

	// Scan reports discovery events until ctx is done. It returns nil when ctx
	// ends the session.
	Scan(ctx context.Context, handler func(Advertisement)) error

	// Dial connects to address. onNotify receives every notification for the
	// lifetime of the returned link.
	Dial(ctx context.Context, address string, onNotify NotificationHandler) (Link, error)
}

// Link is a single live transport connection.
type Link interface {
	Address() string
	DiscoverServices(ctx context.Context) ([]*ServiceDescriptor, error)
	ReadCharacteristic(ctx context.Context, char *CharacteristicDescriptor) ([]byte, error)
	WriteDescriptor(ctx context.Context, char *CharacteristicDescriptor, descriptor uuid.UUID, value []byte) error

	// Disconnected is closed when the link drops, whether or not Close was called.
	Disconnected() <-chan struct{}

	// Close releases the link. It is safe to call more than once.
	Close() error
}
