package device

import (
	"fmt"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ----------------------------
// GATT Service
// ----------------------------

// CharacteristicDescriptor describes one discovered characteristic. It is built by
// the transport during service enumeration and never mutated afterwards.
type CharacteristicDescriptor struct {
	UUID       uuid.UUID
	Service    uuid.UUID
	Properties Properties
}

// KnownName returns the assigned-number name of the characteristic, if any.
func (c *CharacteristicDescriptor) KnownName() string {
	return KnownName(c.UUID)
}

func (c *CharacteristicDescriptor) String() string {
	return fmt.Sprintf("%s/%s [%s]", ShortUUID(c.Service), ShortUUID(c.UUID), c.Properties)
}

// ServiceDescriptor is a GATT service and its characteristics in discovery order.
type ServiceDescriptor struct {
	UUID            uuid.UUID
	characteristics *orderedmap.OrderedMap[uuid.UUID, *CharacteristicDescriptor]
}

// NewServiceDescriptor creates an empty service descriptor.
func NewServiceDescriptor(u uuid.UUID) *ServiceDescriptor {
	return &ServiceDescriptor{
		UUID:            u,
		characteristics: orderedmap.New[uuid.UUID, *CharacteristicDescriptor](),
	}
}

// AddCharacteristic appends a characteristic. A repeated UUID keeps its original
// position and the first descriptor wins.
func (s *ServiceDescriptor) AddCharacteristic(u uuid.UUID, props Properties) *CharacteristicDescriptor {
	if existing, ok := s.characteristics.Get(u); ok {
		return existing
	}
	char := &CharacteristicDescriptor{UUID: u, Service: s.UUID, Properties: props}
	s.characteristics.Set(u, char)
	return char
}

// Characteristic looks up a characteristic by UUID.
func (s *ServiceDescriptor) Characteristic(u uuid.UUID) (*CharacteristicDescriptor, bool) {
	return s.characteristics.Get(u)
}

// Characteristics returns the characteristics in discovery order.
func (s *ServiceDescriptor) Characteristics() []*CharacteristicDescriptor {
	result := make([]*CharacteristicDescriptor, 0, s.characteristics.Len())
	for pair := s.characteristics.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// KnownName returns the assigned-number name of the service, if any.
func (s *ServiceDescriptor) KnownName() string {
	return KnownName(s.UUID)
}

// CollectCharacteristics flattens services into discovery order and keeps the ones
// accepted by keep.
func CollectCharacteristics(services []*ServiceDescriptor, keep func(*CharacteristicDescriptor) bool) []*CharacteristicDescriptor {
	var result []*CharacteristicDescriptor
	for _, svc := range services {
		for _, char := range svc.Characteristics() {
			if keep == nil || keep(char) {
				result = append(result, char)
			}
		}
	}
	return result
}

// FindCharacteristic returns the first characteristic with the given UUID.
func FindCharacteristic(services []*ServiceDescriptor, u uuid.UUID) (*CharacteristicDescriptor, error) {
	for _, svc := range services {
		if char, ok := svc.Characteristic(u); ok {
			return char, nil
		}
	}
	return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{ShortUUID(u)}}
}
