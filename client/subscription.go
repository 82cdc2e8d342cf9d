package client

import (
	"context"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/device"
)

// SubscriptionManager tracks which characteristics have pushes enabled on the
// current connection. It decides what to write; the writes themselves are
// returned as operations so the owner can run them off its own goroutine.
//
// A SubscriptionManager is owned by the client actor and is not safe for
// concurrent use.
type SubscriptionManager struct {
	link    device.Link
	chars   map[subKey]*device.CharacteristicDescriptor
	pending mapset.Set
	active  mapset.Set
	logger  *logrus.Logger
}

// subKey identifies a characteristic instance; the same UUID may appear in
// more than one service.
type subKey struct {
	service uuid.UUID
	char    uuid.UUID
}

func keyOf(char *device.CharacteristicDescriptor) subKey {
	return subKey{service: char.Service, char: char.UUID}
}

// SubscribeOp writes a client configuration descriptor. It runs off the actor.
type SubscribeOp func(ctx context.Context) error

// NewSubscriptionManager creates a manager with no link.
func NewSubscriptionManager(logger *logrus.Logger) *SubscriptionManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &SubscriptionManager{
		chars:   make(map[subKey]*device.CharacteristicDescriptor),
		pending: mapset.NewThreadUnsafeSet(),
		active:  mapset.NewThreadUnsafeSet(),
		logger:  logger,
	}
}

// Bind attaches the manager to the link of a new connection and forgets every
// subscription of the previous one.
func (m *SubscriptionManager) Bind(link device.Link) {
	m.link = link
	m.chars = make(map[subKey]*device.CharacteristicDescriptor)
	m.pending.Clear()
	m.active.Clear()
}

// Subscribe returns the enable write for char. It returns false when char cannot
// push values, when no link is bound, or when char was already requested on this
// connection, so the descriptor is written at most once per connection.
func (m *SubscriptionManager) Subscribe(char *device.CharacteristicDescriptor) (SubscribeOp, bool) {
	if m.link == nil || !char.Properties.Notifiable() {
		return nil, false
	}
	key := keyOf(char)
	if m.pending.Contains(key) || m.active.Contains(key) {
		return nil, false
	}

	m.pending.Add(key)
	m.chars[key] = char
	link := m.link
	value := device.EnableConfigFor(char.Properties).Bytes()

	m.logger.WithFields(logrus.Fields{
		"service":        device.ShortUUID(char.Service),
		"characteristic": device.ShortUUID(char.UUID),
		"value":          value,
	}).Debug("Enabling notifications")

	return func(ctx context.Context) error {
		return link.WriteDescriptor(ctx, char, device.ClientCharacteristicConfig, value)
	}, true
}

// Complete records the outcome of an enable write. A failed enable is
// forgotten, so the characteristic is simply not subscribed.
func (m *SubscriptionManager) Complete(char *device.CharacteristicDescriptor, err error) {
	key := keyOf(char)
	if !m.pending.Contains(key) {
		return
	}
	m.pending.Remove(key)
	if err != nil {
		delete(m.chars, key)
		return
	}
	m.active.Add(key)
}

// Unsubscribe returns the disable write for an active subscription.
func (m *SubscriptionManager) Unsubscribe(char *device.CharacteristicDescriptor) (SubscribeOp, bool) {
	return m.unsubscribe(keyOf(char))
}

func (m *SubscriptionManager) unsubscribe(key subKey) (SubscribeOp, bool) {
	if m.link == nil || !m.active.Contains(key) {
		return nil, false
	}
	desc := m.chars[key]
	link := m.link
	m.active.Remove(key)
	delete(m.chars, key)

	return func(ctx context.Context) error {
		return link.WriteDescriptor(ctx, desc, device.ClientCharacteristicConfig, device.DisableNotificationValue)
	}, true
}

// IsActive reports whether pushes for char are enabled.
func (m *SubscriptionManager) IsActive(char *device.CharacteristicDescriptor) bool {
	return m.active.Contains(keyOf(char))
}

// Active counts enabled subscriptions.
func (m *SubscriptionManager) Active() int {
	return m.active.Cardinality()
}

// Release detaches the manager from its link. It returns the best-effort
// disable writes for every active subscription; their errors are logged at
// debug level and otherwise ignored, since the link may already be gone.
func (m *SubscriptionManager) Release() func(ctx context.Context) {
	var ops []SubscribeOp
	for _, v := range m.active.ToSlice() {
		if op, ok := m.unsubscribe(v.(subKey)); ok {
			ops = append(ops, op)
		}
	}
	m.link = nil
	m.chars = make(map[subKey]*device.CharacteristicDescriptor)
	m.pending.Clear()
	m.active.Clear()

	logger := m.logger
	return func(ctx context.Context) {
		for _, op := range ops {
			if err := op(ctx); err != nil {
				logger.WithError(err).Debug("Ignoring unsubscribe failure during teardown")
			}
		}
	}
}
