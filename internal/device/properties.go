package device

import (
	"fmt"
	"strings"
)

// Properties is the GATT characteristic properties bit field. Bit positions match
// the Characteristic Declaration, so transports can convert with a plain cast.
type Properties uint8

const (
	PropBroadcast Properties = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropSignedWrite
	PropExtended
)

var propertyNames = []struct {
	prop Properties
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropSignedWrite, "signed-write"},
	{PropExtended, "extended"},
}

// Has reports whether every bit of p2 is set.
func (p Properties) Has(p2 Properties) bool {
	return p&p2 == p2
}

// Readable reports the read capability.
func (p Properties) Readable() bool {
	return p.Has(PropRead)
}

// Notifiable reports whether the characteristic can push values, by notification
// or by indication.
func (p Properties) Notifiable() bool {
	return p&(PropNotify|PropIndicate) != 0
}

// Writable reports whether the characteristic accepts writes of either kind.
func (p Properties) Writable() bool {
	return p&(PropWrite|PropWriteWithoutResponse) != 0
}

// String renders the set as a comma separated list, e.g. "read,notify".
func (p Properties) String() string {
	names := make([]string, 0, len(propertyNames))
	for _, pn := range propertyNames {
		if p.Has(pn.prop) {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseProperties parses a comma separated list produced by String.
func ParseProperties(s string) (Properties, error) {
	var props Properties
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		found := false
		for _, pn := range propertyNames {
			if pn.name == part {
				props |= pn.prop
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown characteristic property %q", part)
		}
	}
	return props, nil
}
