package testutils

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/srg/hrmon/internal/device"
)

// FakeTransport is an in-memory device.Transport. The zero radio state is
// supported, enabled and permitted. Every Dial creates a new FakeLink serving a
// fresh copy of the configured profile.
type FakeTransport struct {
	kind device.Kind

	NotSupported bool
	Disabled     bool
	Denied       bool

	mu             sync.Mutex
	advertisements []device.Advertisement
	scanHandlers   map[int]func(device.Advertisement)
	nextHandlerID  int
	scanErr        error
	dialErr        error
	discoverErr    error
	readErrs       map[uuid.UUID]error
	writeErrs      map[uuid.UUID]error
	dialGate       chan struct{}
	profile        *ProfileBuilder
	manualReads    bool
	links          []*FakeLink
	dials          []string
	maxLiveLinks   int

	activeScans    atomic.Int32
	maxActiveScans atomic.Int32
	scanStarts     atomic.Int32

	dialed chan *FakeLink
}

// NewFakeTransport creates a transport of the given kind serving HeartRateProfile.
func NewFakeTransport(kind device.Kind) *FakeTransport {
	return &FakeTransport{
		kind:         kind,
		scanHandlers: make(map[int]func(device.Advertisement)),
		profile:      HeartRateProfile(),
		readErrs:     make(map[uuid.UUID]error),
		writeErrs:    make(map[uuid.UUID]error),
		dialed:       make(chan *FakeLink, 16),
	}
}

// WithAdvertisements sets the events replayed at the start of every scan.
func (t *FakeTransport) WithAdvertisements(ads ...device.Advertisement) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advertisements = append(t.advertisements, ads...)
	return t
}

// WithProfile sets the profile served by links dialled afterwards.
func (t *FakeTransport) WithProfile(profile *ProfileBuilder) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.profile = profile
	return t
}

// WithManualReads makes links dialled afterwards park their reads.
func (t *FakeTransport) WithManualReads() *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.manualReads = true
	return t
}

// FailScan makes Scan return err immediately.
func (t *FakeTransport) FailScan(err error) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scanErr = err
	return t
}

// FailDial makes Dial return err.
func (t *FakeTransport) FailDial(err error) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialErr = err
	return t
}

// FailDiscovery makes links dialled afterwards fail service discovery.
func (t *FakeTransport) FailDiscovery(err error) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.discoverErr = err
	return t
}

// FailRead makes links dialled afterwards fail reads of char.
func (t *FakeTransport) FailRead(char uuid.UUID, err error) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readErrs[char] = err
	return t
}

// FailWrite makes links dialled afterwards fail descriptor writes on char.
func (t *FakeTransport) FailWrite(char uuid.UUID, err error) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErrs[char] = err
	return t
}

// HoldDials blocks every Dial until the returned release func is called.
func (t *FakeTransport) HoldDials() (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.dialGate = gate
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			if t.dialGate == gate {
				t.dialGate = nil
			}
			t.mu.Unlock()
			close(gate)
		})
	}
}

func (t *FakeTransport) Kind() device.Kind { return t.kind }
func (t *FakeTransport) Supported() bool   { return !t.NotSupported }
func (t *FakeTransport) Enabled() bool     { return !t.Disabled }
func (t *FakeTransport) Permitted() bool   { return !t.Denied }

// Scan replays the configured advertisements, then forwards anything passed to
// Advertise until ctx is done.
func (t *FakeTransport) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	t.mu.Lock()
	if t.scanErr != nil {
		err := t.scanErr
		t.mu.Unlock()
		return err
	}
	id := t.nextHandlerID
	t.nextHandlerID++
	t.scanHandlers[id] = handler
	ads := append([]device.Advertisement(nil), t.advertisements...)
	t.mu.Unlock()

	t.scanStarts.Add(1)
	n := t.activeScans.Add(1)
	for {
		m := t.maxActiveScans.Load()
		if n <= m || t.maxActiveScans.CompareAndSwap(m, n) {
			break
		}
	}
	defer func() {
		t.mu.Lock()
		delete(t.scanHandlers, id)
		t.mu.Unlock()
		t.activeScans.Add(-1)
	}()

	for _, adv := range ads {
		if ctx.Err() != nil {
			return nil
		}
		handler(adv)
	}
	<-ctx.Done()
	return nil
}

// Advertise delivers adv to every active scan.
func (t *FakeTransport) Advertise(adv device.Advertisement) {
	t.mu.Lock()
	handlers := make([]func(device.Advertisement), 0, len(t.scanHandlers))
	for _, h := range t.scanHandlers {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(adv)
	}
}

func (t *FakeTransport) Dial(ctx context.Context, address string, onNotify device.NotificationHandler) (device.Link, error) {
	t.mu.Lock()
	t.dials = append(t.dials, address)
	gate := t.dialGate
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dialErr != nil {
		return nil, t.dialErr
	}

	link := NewFakeLink(address, t.profile, onNotify)
	if t.manualReads {
		link.WithManualReads()
	}
	if t.discoverErr != nil {
		link.FailDiscovery(t.discoverErr)
	}
	for char, err := range t.readErrs {
		link.FailRead(char, err)
	}
	for char, err := range t.writeErrs {
		link.FailWrite(char, err)
	}
	t.links = append(t.links, link)

	live := 0
	for _, l := range t.links {
		if l.Live() {
			live++
		}
	}
	if live > t.maxLiveLinks {
		t.maxLiveLinks = live
	}

	select {
	case t.dialed <- link:
	default:
	}
	return link, nil
}

// NextLink waits for the next successful Dial.
func (t *FakeTransport) NextLink(timeout time.Duration) (*FakeLink, bool) {
	select {
	case l := <-t.dialed:
		return l, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Links returns every link dialled so far.
func (t *FakeTransport) Links() []*FakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*FakeLink(nil), t.links...)
}

// Dials returns the addresses passed to Dial in order.
func (t *FakeTransport) Dials() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.dials...)
}

// MaxLiveLinks is the largest number of simultaneously live links observed at dial time.
func (t *FakeTransport) MaxLiveLinks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxLiveLinks
}

// ActiveScans counts scans currently running.
func (t *FakeTransport) ActiveScans() int { return int(t.activeScans.Load()) }

// MaxActiveScans is the largest number of overlapping scans observed.
func (t *FakeTransport) MaxActiveScans() int { return int(t.maxActiveScans.Load()) }

// ScanStarts counts Scan calls that got past the error check.
func (t *FakeTransport) ScanStarts() int { return int(t.scanStarts.Load()) }
