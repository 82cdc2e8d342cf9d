package device

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// baseUUID is the Bluetooth SIG base UUID 00000000-0000-1000-8000-00805f9b34fb.
// 16- and 32-bit assigned numbers occupy its first four bytes.
var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// Assigned numbers used by the heart-rate client.
var (
	HeartRateService           = UUID16(0x180d)
	HeartRateMeasurement       = UUID16(0x2a37)
	BodySensorLocation         = UUID16(0x2a38)
	BatteryService             = UUID16(0x180f)
	BatteryLevel               = UUID16(0x2a19)
	ClientCharacteristicConfig = UUID16(0x2902)
	SerialPortProfile          = UUID16(0x1101)
)

var knownNames = map[uuid.UUID]string{
	HeartRateService:           "Heart Rate",
	HeartRateMeasurement:       "Heart Rate Measurement",
	BodySensorLocation:         "Body Sensor Location",
	BatteryService:             "Battery Service",
	BatteryLevel:               "Battery Level",
	ClientCharacteristicConfig: "Client Characteristic Configuration",
	SerialPortProfile:          "Serial Port",
	UUID16(0x1800):             "Generic Access",
	UUID16(0x1801):             "Generic Attribute",
	UUID16(0x180a):             "Device Information",
	UUID16(0x2a00):             "Device Name",
	UUID16(0x2a29):             "Manufacturer Name String",
}

// UUID16 expands a 16-bit assigned number into a full 128-bit UUID.
func UUID16(v uint16) uuid.UUID {
	return UUID32(uint32(v))
}

// UUID32 expands a 32-bit assigned number into a full 128-bit UUID.
func UUID32(v uint32) uuid.UUID {
	u := baseUUID
	binary.BigEndian.PutUint32(u[0:4], v)
	return u
}

// IsAssigned reports whether u lives inside the Bluetooth SIG base range.
func IsAssigned(u uuid.UUID) bool {
	return string(u[4:]) == string(baseUUID[4:])
}

// ParseUUID parses 16-bit ("2a37", "0x2A37"), 32-bit and 128-bit UUIDs, with or
// without dashes.
func ParseUUID(s string) (uuid.UUID, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	raw = strings.ReplaceAll(raw, "-", "")
	raw = strings.ToLower(raw)

	switch len(raw) {
	case 4, 8:
		b, err := hex.DecodeString(strings.Repeat("0", 8-len(raw)) + raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return UUID32(binary.BigEndian.Uint32(b)), nil
	case 32:
		u, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return u, nil
	default:
		return uuid.Nil, fmt.Errorf("invalid UUID %q: unexpected length %d", s, len(raw))
	}
}

// MustParseUUID is like ParseUUID but panics on error.
func MustParseUUID(s string) uuid.UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ShortUUID renders assigned numbers in their 16-bit (or 32-bit) short form and
// everything else as lowercase hex without dashes.
func ShortUUID(u uuid.UUID) string {
	if IsAssigned(u) {
		v := binary.BigEndian.Uint32(u[0:4])
		if v <= 0xffff {
			return fmt.Sprintf("%04x", v)
		}
		return fmt.Sprintf("%08x", v)
	}
	return hex.EncodeToString(u[:])
}

// NormalizeUUID converts a UUID string into the short display form.
// Returns "" when the input cannot be parsed.
func NormalizeUUID(s string) string {
	u, err := ParseUUID(s)
	if err != nil {
		return ""
	}
	return ShortUUID(u)
}

// KnownName returns the human-readable name of an assigned number, or "".
func KnownName(u uuid.UUID) string {
	return knownNames[u]
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns parsed UUIDs or an error naming the offending index.
func ValidateUUID(uuids ...string) ([]uuid.UUID, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]uuid.UUID, 0, len(uuids))
	for i, s := range uuids {
		if s == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		u, err := ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID format at index %d: %w", i, err)
		}
		result = append(result, u)
	}
	return result, nil
}
