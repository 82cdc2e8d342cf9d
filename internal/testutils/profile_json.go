package testutils

import (
	"github.com/srg/hrmon/internal/device"
)

type ServiceJSON struct {
	UUID            string               `json:"uuid"`
	Name            string               `json:"name,omitempty"`
	Characteristics []CharacteristicJSON `json:"characteristics"`
}

type CharacteristicJSON struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name,omitempty"`
	Properties string `json:"properties"`
}

// ProfileToJSON renders enumerated services as JSON with short UUIDs, in
// discovery order.
func ProfileToJSON(services []*device.ServiceDescriptor) string {
	out := make([]ServiceJSON, 0, len(services))
	for _, svc := range services {
		sj := ServiceJSON{
			UUID:            device.ShortUUID(svc.UUID),
			Name:            svc.KnownName(),
			Characteristics: []CharacteristicJSON{},
		}
		for _, char := range svc.Characteristics() {
			sj.Characteristics = append(sj.Characteristics, CharacteristicJSON{
				UUID:       device.ShortUUID(char.UUID),
				Name:       char.KnownName(),
				Properties: char.Properties.String(),
			})
		}
		out = append(out, sj)
	}
	return MustJSON(out)
}
