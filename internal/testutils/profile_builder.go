package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/srg/hrmon/internal/device"
)

// CharacteristicConfig represents a characteristic of a fake peripheral
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a service of a fake peripheral
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// ProfileConfig is the complete GATT profile a fake link enumerates
type ProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// ProfileBuilder builds the GATT profile and read values served by a FakeLink.
// Descriptors are rebuilt on every call to Services, so each fake connection
// owns a fresh set, the same way a real transport enumerates per connection.
type ProfileBuilder struct {
	profile ProfileConfig
}

// NewProfileBuilder creates an empty profile builder
func NewProfileBuilder() *ProfileBuilder {
	return &ProfileBuilder{profile: ProfileConfig{Services: []ServiceConfig{}}}
}

// HeartRateProfile is the profile of a typical chest strap: a notifying heart
// rate measurement, a readable body sensor location and a battery level.
func HeartRateProfile() *ProfileBuilder {
	return NewProfileBuilder().
		WithService("180D").
		WithCharacteristic("2A37", "notify", nil).
		WithCharacteristic("2A38", "read", []byte{0x01}).
		WithService("180F").
		WithCharacteristic("2A19", "read,notify", []byte{0x5A})
}

// WithService adds a service to the profile
func (b *ProfileBuilder) WithService(uuid string) *ProfileBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *ProfileBuilder) WithCharacteristic(uuid, properties string, value []byte) *ProfileBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// FromJSON replaces the profile with the JSON document built from jsonStrFmt.
// Panics on invalid JSON as this is intended for test data setup.
func (b *ProfileBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *ProfileBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var profile ProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &profile); err != nil {
		panic(fmt.Sprintf("FromJSON: failed to unmarshal profile: %v", err))
	}
	b.profile = profile
	return b
}

// Config returns the raw profile configuration
func (b *ProfileBuilder) Config() ProfileConfig {
	return b.profile
}

// Services builds a fresh set of service descriptors in profile order.
// Panics on malformed UUIDs or properties.
func (b *ProfileBuilder) Services() []*device.ServiceDescriptor {
	services := make([]*device.ServiceDescriptor, 0, len(b.profile.Services))
	for _, svcCfg := range b.profile.Services {
		svc := device.NewServiceDescriptor(device.MustParseUUID(svcCfg.UUID))
		for _, charCfg := range svcCfg.Characteristics {
			props, err := device.ParseProperties(charCfg.Properties)
			if err != nil {
				panic(fmt.Sprintf("characteristic %s: %v", charCfg.UUID, err))
			}
			svc.AddCharacteristic(device.MustParseUUID(charCfg.UUID), props)
		}
		services = append(services, svc)
	}
	return services
}

// Values returns the read values keyed by characteristic UUID
func (b *ProfileBuilder) Values() map[uuid.UUID][]byte {
	values := make(map[uuid.UUID][]byte)
	for _, svcCfg := range b.profile.Services {
		for _, charCfg := range svcCfg.Characteristics {
			if charCfg.Value != nil {
				values[device.MustParseUUID(charCfg.UUID)] = append([]byte(nil), charCfg.Value...)
			}
		}
	}
	return values
}
