package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/srg/hrmon/internal/device"
)

// DescriptorWrite records one WriteDescriptor call
type DescriptorWrite struct {
	Service        uuid.UUID
	Characteristic uuid.UUID
	Descriptor     uuid.UUID
	Value          []byte
}

// PendingRead is a read parked by a FakeLink in manual mode
type PendingRead struct {
	Char  *device.CharacteristicDescriptor
	reply chan readResult
}

type readResult struct {
	value []byte
	err   error
}

// Complete answers the read. Calling it more than once is a no-op.
func (p *PendingRead) Complete(value []byte, err error) {
	select {
	case p.reply <- readResult{value: value, err: err}:
	default:
	}
}

// FakeLink is an in-memory device.Link. Reads are answered from the profile
// values, or parked until the test completes them when manual reads are on.
// The link records the largest number of reads it ever saw in flight.
type FakeLink struct {
	address  string
	services []*device.ServiceDescriptor
	values   map[uuid.UUID][]byte
	onNotify device.NotificationHandler

	manualReads bool
	pending     chan *PendingRead

	mu          sync.Mutex
	discoverErr error
	readErrs    map[uuid.UUID]error
	writeErrs   map[uuid.UUID]error
	readOrder   []uuid.UUID
	writes      []DescriptorWrite

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	discovers   atomic.Int32

	disconnected chan struct{}
	dropOnce     sync.Once
	closed       atomic.Bool
}

// NewFakeLink creates a link serving the given profile.
func NewFakeLink(address string, profile *ProfileBuilder, onNotify device.NotificationHandler) *FakeLink {
	if profile == nil {
		profile = NewProfileBuilder()
	}
	return &FakeLink{
		address:      address,
		services:     profile.Services(),
		values:       profile.Values(),
		onNotify:     onNotify,
		pending:      make(chan *PendingRead, 16),
		readErrs:     make(map[uuid.UUID]error),
		writeErrs:    make(map[uuid.UUID]error),
		disconnected: make(chan struct{}),
	}
}

// WithManualReads parks every read until completed through NextRead.
func (l *FakeLink) WithManualReads() *FakeLink {
	l.manualReads = true
	return l
}

// FailDiscovery makes DiscoverServices return err.
func (l *FakeLink) FailDiscovery(err error) *FakeLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discoverErr = err
	return l
}

// FailRead makes reads of char return err.
func (l *FakeLink) FailRead(char uuid.UUID, err error) *FakeLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErrs[char] = err
	return l
}

// FailWrite makes descriptor writes on char return err.
func (l *FakeLink) FailWrite(char uuid.UUID, err error) *FakeLink {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeErrs[char] = err
	return l
}

func (l *FakeLink) Address() string { return l.address }

func (l *FakeLink) Disconnected() <-chan struct{} { return l.disconnected }

func (l *FakeLink) isDown() bool {
	select {
	case <-l.disconnected:
		return true
	default:
		return false
	}
}

func (l *FakeLink) DiscoverServices(ctx context.Context) ([]*device.ServiceDescriptor, error) {
	l.discovers.Add(1)
	if l.isDown() {
		return nil, device.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.discoverErr != nil {
		return nil, l.discoverErr
	}
	return l.services, nil
}

func (l *FakeLink) ReadCharacteristic(ctx context.Context, char *device.CharacteristicDescriptor) ([]byte, error) {
	n := l.inFlight.Add(1)
	defer l.inFlight.Add(-1)
	for {
		m := l.maxInFlight.Load()
		if n <= m || l.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	l.mu.Lock()
	l.readOrder = append(l.readOrder, char.UUID)
	readErr := l.readErrs[char.UUID]
	value, hasValue := l.values[char.UUID]
	l.mu.Unlock()

	if l.isDown() {
		return nil, device.ErrNotConnected
	}

	if !l.manualReads {
		if readErr != nil {
			return nil, readErr
		}
		if !hasValue {
			return nil, fmt.Errorf("no value for %s", device.ShortUUID(char.UUID))
		}
		return append([]byte(nil), value...), nil
	}

	pr := &PendingRead{Char: char, reply: make(chan readResult, 1)}
	select {
	case l.pending <- pr:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.disconnected:
		return nil, device.ErrNotConnected
	}

	select {
	case res := <-pr.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.disconnected:
		return nil, device.ErrNotConnected
	}
}

// NextRead waits for the next parked read in manual mode.
func (l *FakeLink) NextRead(timeout time.Duration) (*PendingRead, bool) {
	select {
	case pr := <-l.pending:
		return pr, true
	case <-time.After(timeout):
		return nil, false
	}
}

// PendingReads reports how many reads are parked and not yet taken by NextRead.
func (l *FakeLink) PendingReads() int {
	return len(l.pending)
}

func (l *FakeLink) WriteDescriptor(ctx context.Context, char *device.CharacteristicDescriptor, descriptor uuid.UUID, value []byte) error {
	if l.isDown() {
		return device.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, DescriptorWrite{
		Service:        char.Service,
		Characteristic: char.UUID,
		Descriptor:     descriptor,
		Value:          append([]byte(nil), value...),
	})
	return l.writeErrs[char.UUID]
}

// Notify pushes payload for the characteristic through the notification handler,
// synchronously on the caller's goroutine.
func (l *FakeLink) Notify(char uuid.UUID, payload []byte) error {
	if l.isDown() {
		return device.ErrNotConnected
	}
	found, err := device.FindCharacteristic(l.services, char)
	if err != nil {
		return err
	}
	if l.onNotify == nil {
		return errors.New("no notification handler")
	}
	l.onNotify(found, append([]byte(nil), payload...))
	return nil
}

// Drop simulates the peripheral going away.
func (l *FakeLink) Drop() {
	l.dropOnce.Do(func() { close(l.disconnected) })
}

func (l *FakeLink) Close() error {
	l.closed.Store(true)
	l.Drop()
	return nil
}

// Closed reports whether Close was called.
func (l *FakeLink) Closed() bool { return l.closed.Load() }

// Live reports whether the link is neither closed nor dropped.
func (l *FakeLink) Live() bool { return !l.isDown() }

// MaxInFlight is the largest number of concurrent reads observed.
func (l *FakeLink) MaxInFlight() int { return int(l.maxInFlight.Load()) }

// DiscoverCalls counts DiscoverServices calls.
func (l *FakeLink) DiscoverCalls() int { return int(l.discovers.Load()) }

// ReadOrder returns the characteristics in the order reads were issued.
func (l *FakeLink) ReadOrder() []uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uuid.UUID(nil), l.readOrder...)
}

// Writes returns all descriptor writes in order.
func (l *FakeLink) Writes() []DescriptorWrite {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]DescriptorWrite(nil), l.writes...)
}
