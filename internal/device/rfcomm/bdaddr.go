package rfcomm

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// parseBDAddr parses "AA:BB:CC:DD:EE:FF" into the little-endian byte order the
// kernel expects in a bdaddr_t.
func parseBDAddr(address string) ([6]uint8, error) {
	var out [6]uint8

	parts := strings.Split(strings.TrimSpace(address), ":")
	if len(parts) != 6 {
		return out, fmt.Errorf("invalid bluetooth address %q", address)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return out, fmt.Errorf("invalid bluetooth address %q", address)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return out, fmt.Errorf("invalid bluetooth address %q: %w", address, err)
		}
		out[5-i] = b[0]
	}
	return out, nil
}
