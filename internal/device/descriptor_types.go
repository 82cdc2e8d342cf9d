package device

import (
	"encoding/binary"
	"fmt"
)

// ClientConfig represents the Client Characteristic Configuration descriptor (0x2902)
type ClientConfig struct {
	Notifications bool // Notifications enabled
	Indications   bool // Indications enabled
}

// Standard CCCD values, little-endian uint16 bit fields.
var (
	EnableNotificationValue  = []byte{0x01, 0x00}
	EnableIndicationValue    = []byte{0x02, 0x00}
	DisableNotificationValue = []byte{0x00, 0x00}
)

// ParseClientConfig parses Client Characteristic Configuration descriptor (0x2902)
func ParseClientConfig(data []byte) (*ClientConfig, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("invalid length: expected 2 bytes, got %d", len(data))
	}
	value := binary.LittleEndian.Uint16(data[0:2])
	return &ClientConfig{
		Notifications: value&0x0001 != 0,
		Indications:   value&0x0002 != 0,
	}, nil
}

// Bytes encodes the configuration as the two-byte descriptor value.
func (c ClientConfig) Bytes() []byte {
	var value uint16
	if c.Notifications {
		value |= 0x0001
	}
	if c.Indications {
		value |= 0x0002
	}
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, value)
	return out
}

// EnableConfigFor returns the CCCD configuration that turns on pushes for a
// characteristic: notifications when supported, indications otherwise.
func EnableConfigFor(props Properties) ClientConfig {
	if props.Has(PropNotify) {
		return ClientConfig{Notifications: true}
	}
	return ClientConfig{Indications: props.Has(PropIndicate)}
}
