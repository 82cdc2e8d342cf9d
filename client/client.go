// Package client drives a heart-rate peripheral through its connection
// lifecycle: connect, enumerate services, enable notifications, read every
// readable characteristic one at a time and deliver decoded readings.
//
// All lifecycle state is owned by a single actor goroutine. Public methods post
// events to it and never block on the transport; transport calls run on helper
// goroutines that post their completion back as events.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/device"
	"github.com/srg/hrmon/internal/frame"
	"github.com/srg/hrmon/internal/groutine"
	"github.com/srg/hrmon/internal/ringchan"
	"github.com/srg/hrmon/scanner"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const eventQueueSize = 256

// Options tunes a Client. Zero fields take their defaults.
type Options struct {
	// DeliveryBuffer bounds the notices waiting for subscribers. When full the
	// oldest notice is dropped.
	DeliveryBuffer int `default:"64"`
	// UnsubscribeTimeout bounds the best-effort notification disable on teardown.
	UnsubscribeTimeout time.Duration `default:"2s"`
	// Dispatcher runs subscriber callbacks; nil runs them on the delivery goroutine.
	Dispatcher Dispatcher
}

// attempt tracks one Dial so teardown can wait for it and close whatever it produced.
type attempt struct {
	done chan struct{}
	link device.Link
}

// Client is the connection state machine.
type Client struct {
	transport device.Transport
	scanner   *scanner.Scanner
	logger    *logrus.Logger
	opts      Options

	ctx     context.Context
	cancel  context.CancelFunc
	events  chan event
	stopped chan struct{}
	helpers groutine.Group

	shutdownOnce sync.Once
	status       atomic.Pointer[Status]
	scanSessions atomic.Uint64

	delivery     *ringchan.RingChannel[notice]
	deliveryDone chan struct{}

	subMu       sync.RWMutex
	subscribers *orderedmap.OrderedMap[uint64, Subscriber]
	nextSubID   uint64

	// Owned by the actor goroutine.
	state          State
	reason         error
	peripheral     device.PeripheralHandle
	gen            uint64
	link           device.Link
	linkCtx        context.Context
	linkCancel     context.CancelFunc
	attempt        *attempt
	services       []*device.ServiceDescriptor
	queue          *ReadQueue
	subs           *SubscriptionManager
	lastTeardown   chan struct{}
	pendingConnect *device.PeripheralHandle
	activeScan     uint64
	shuttingDown   bool
}

// New creates a client over transport and starts its actor.
func New(transport device.Transport, logger *logrus.Logger, opts *Options) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	o := Options{}
	if opts != nil {
		o = *opts
	}
	defaults.SetDefaults(&o)
	if o.DeliveryBuffer <= 0 {
		o.DeliveryBuffer = 64
	}
	if o.Dispatcher == nil {
		o.Dispatcher = inlineDispatcher
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	c := &Client{
		transport:    transport,
		scanner:      scanner.NewScanner(transport, logger),
		logger:       logger,
		opts:         o,
		ctx:          ctx,
		cancel:       cancel,
		events:       make(chan event, eventQueueSize),
		stopped:      make(chan struct{}),
		delivery:     ringchan.New[notice](o.DeliveryBuffer),
		deliveryDone: make(chan struct{}),
		subscribers:  orderedmap.New[uint64, Subscriber](),
		state:        Idle,
		queue:        NewReadQueue(),
		subs:         NewSubscriptionManager(logger),
		lastTeardown: idle,
	}
	c.status.Store(&Status{State: Idle})

	groutine.Go(ctx, "hrmon-client-delivery", func(context.Context) { c.deliverLoop() })
	groutine.Go(ctx, "hrmon-client-actor", func(context.Context) { c.run() })
	return c
}

// Subscribe registers s and returns a func that removes it.
func (c *Client) Subscribe(s Subscriber) (unsubscribe func()) {
	c.subMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.subscribers.Set(id, s)
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		c.subscribers.Delete(id)
		c.subMu.Unlock()
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return c.status.Load().State
}

// Status returns the current lifecycle snapshot.
func (c *Client) Status() Status {
	return *c.status.Load()
}

// Scanner exposes the discovery scanner owned by the client.
func (c *Client) Scanner() *scanner.Scanner {
	return c.scanner
}

// RequestConnect connects to p, first tearing down any existing connection.
// The outcome is reported through subscribers.
func (c *Client) RequestConnect(p device.PeripheralHandle) {
	c.post(connectRequested{handle: p})
}

// RequestDisconnect tears the connection down. It is a no-op when there is no
// connection or one is already being torn down.
func (c *Client) RequestDisconnect() {
	c.post(disconnectRequested{})
}

// StartScan starts a discovery session filtered by name. While it runs and the
// client holds no connection, the client is in the Scanning state.
func (c *Client) StartScan(ctx context.Context, nameFilter string, timeout time.Duration) (<-chan device.PeripheralHandle, error) {
	sess, err := c.scanner.StartSession(ctx, scanner.ScanOptions{NameFilter: nameFilter, Timeout: timeout})
	if err != nil {
		return nil, err
	}

	session := c.scanSessions.Add(1)
	c.post(scanStarted{session: session})
	c.helpers.Go(c.ctx, "hrmon-scan-watch", func(ctx context.Context) {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			return
		}
		c.post(scanEnded{session: session})
	})
	return sess.C, nil
}

// StopScan ends the running discovery session, if any.
func (c *Client) StopScan() {
	c.scanner.Stop()
}

// Shutdown tears down any connection, stops the actor and waits for helper
// goroutines and pending deliveries, or for ctx.
func (c *Client) Shutdown(ctx context.Context) error {
	c.scanner.Stop()

	c.shutdownOnce.Do(func() {
		c.post(shutdownRequested{})
	})

	select {
	case <-c.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.cancel()
	if err := c.helpers.Wait(ctx); err != nil {
		return err
	}

	c.delivery.Close()
	select {
	case <-c.deliveryDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.logger.WithField("delivery", c.delivery.GetMetrics()).Debug("Client stopped")
	return nil
}

// post hands ev to the actor. It returns false once the actor has stopped.
func (c *Client) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.stopped:
		return false
	}
}

func (c *Client) run() {
	defer close(c.stopped)
	for ev := range c.events {
		if c.handle(ev) {
			return
		}
	}
}

// handle applies one event. It returns true when the actor should exit.
func (c *Client) handle(ev event) bool {
	if g := ev.generation(); g != 0 && g != c.gen {
		c.dropStale(ev)
		return false
	}

	switch e := ev.(type) {
	case connectRequested:
		c.onConnectRequested(e.handle)
	case disconnectRequested:
		c.onDisconnectRequested()
	case shutdownRequested:
		return c.onShutdownRequested()
	case scanStarted:
		switch c.state {
		case Idle:
			c.activeScan = e.session
			c.setState(Scanning, nil)
		case Scanning:
			c.activeScan = e.session
		}
	case scanEnded:
		if c.state == Scanning && c.activeScan == e.session {
			c.setState(Idle, nil)
		}
	case transportConnected:
		c.onTransportConnected(e.link)
	case transportError:
		if c.state == Connecting {
			c.fail(fmt.Errorf("connect %s: %w", c.peripheral, e.err))
		}
	case servicesEnumerated:
		c.onServicesEnumerated(e.services)
	case discoveryError:
		if c.state == DiscoveringServices {
			c.fail(fmt.Errorf("%s: %w: %w", c.peripheral, device.ErrServiceDiscoveryFailed, e.err))
		}
	case readCompleted:
		c.onReadCompleted(e)
	case subscribeCompleted:
		c.onSubscribeCompleted(e)
	case notificationReceived:
		if c.state == Ready {
			c.deliverMeasurement(e.char, e.payload, SourceNotification)
		}
	case transportDropped:
		if c.state == DiscoveringServices || c.state == Ready {
			c.logger.WithField("peripheral", c.peripheral.String()).Warn("Connection lost")
			c.emitError(fmt.Errorf("%s: %w", c.peripheral, device.ErrConnectionLost))
			c.beginTeardown()
		}
	case cleanupComplete:
		return c.onCleanupComplete()
	}
	return false
}

// dropStale discards an event of a superseded connection. A link dialled for
// it is closed by the teardown that superseded it.
func (c *Client) dropStale(ev event) {
	c.logger.WithFields(logrus.Fields{
		"event":      fmt.Sprintf("%T", ev),
		"generation": ev.generation(),
		"current":    c.gen,
	}).Debug("Dropping stale event")
}

func (c *Client) onConnectRequested(p device.PeripheralHandle) {
	if p.IsZero() {
		c.emitError(errors.New("connect: peripheral has no address"))
		return
	}
	c.pendingConnect = nil

	switch c.state {
	case Idle, Scanning:
		c.startConnect(p)
	case Disconnecting:
		c.pendingConnect = &p
	default:
		c.logger.WithFields(logrus.Fields{
			"current": c.peripheral.String(),
			"next":    p.String(),
		}).Info("Replacing connection")
		c.pendingConnect = &p
		c.beginTeardown()
	}
}

func (c *Client) onDisconnectRequested() {
	c.pendingConnect = nil
	if c.state.Connected() || c.state == Failed {
		c.beginTeardown()
	}
}

func (c *Client) onShutdownRequested() bool {
	c.shuttingDown = true
	c.pendingConnect = nil
	switch {
	case c.state.Connected() || c.state == Failed:
		c.beginTeardown()
		return false
	case c.state == Disconnecting:
		return false
	}
	return true
}

func (c *Client) startConnect(p device.PeripheralHandle) {
	if c.state == Scanning {
		c.helpers.Go(c.ctx, "hrmon-scan-stop", func(context.Context) { c.scanner.Stop() })
	}

	c.gen++
	gen := c.gen
	c.peripheral = p
	c.setState(Connecting, nil)

	ctx, cancel := context.WithCancel(c.ctx)
	c.linkCtx = ctx
	c.linkCancel = cancel
	a := &attempt{done: make(chan struct{})}
	c.attempt = a
	prev := c.lastTeardown
	onNotify := c.notificationHandler(gen)

	c.logger.WithField("peripheral", p.String()).Info("Connecting...")

	c.helpers.Go(ctx, "hrmon-dial", func(ctx context.Context) {
		defer close(a.done)

		select {
		case <-prev:
		case <-ctx.Done():
			return
		}

		link, err := c.transport.Dial(ctx, p.Address(), onNotify)
		a.link = link
		if err != nil {
			c.post(transportError{tagged: tagged{gen}, err: err})
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.post(transportConnected{tagged: tagged{gen}, link: link})
	})
}

func (c *Client) notificationHandler(gen uint64) device.NotificationHandler {
	return func(char *device.CharacteristicDescriptor, payload []byte) {
		c.post(notificationReceived{tagged: tagged{gen}, char: char, payload: payload})
	}
}

func (c *Client) onTransportConnected(link device.Link) {
	if c.state != Connecting {
		return
	}
	c.link = link
	c.subs.Bind(link)
	c.setState(DiscoveringServices, nil)

	gen := c.gen
	c.helpers.Go(c.linkContext(), "hrmon-link-monitor", func(ctx context.Context) {
		select {
		case <-link.Disconnected():
			c.post(transportDropped{tagged: tagged{gen}})
		case <-ctx.Done():
		}
	})

	c.helpers.Go(c.linkContext(), "hrmon-discovery", func(ctx context.Context) {
		services, err := link.DiscoverServices(ctx)
		if err != nil {
			c.post(discoveryError{tagged: tagged{gen}, err: err})
			return
		}
		c.post(servicesEnumerated{tagged: tagged{gen}, services: services})
	})
}

// linkContext returns the context of the current connection's helpers.
func (c *Client) linkContext() context.Context {
	if c.linkCtx == nil {
		return c.ctx
	}
	return c.linkCtx
}

func (c *Client) onServicesEnumerated(services []*device.ServiceDescriptor) {
	if c.state != DiscoveringServices {
		return
	}
	c.services = services
	c.setState(Ready, nil)

	c.logger.WithFields(logrus.Fields{
		"peripheral": c.peripheral.String(),
		"services":   len(services),
	}).Info("Connection ready")
	c.emit(notice{connected: &connectedNotice{peripheral: c.peripheral, services: services}})

	gen := c.gen
	for _, char := range device.CollectCharacteristics(services, func(ch *device.CharacteristicDescriptor) bool {
		return ch.Properties.Notifiable()
	}) {
		op, ok := c.subs.Subscribe(char)
		if !ok {
			continue
		}
		char := char
		c.helpers.Go(c.linkContext(), "hrmon-subscribe", func(ctx context.Context) {
			err := op(ctx)
			c.post(subscribeCompleted{tagged: tagged{gen}, char: char, err: err})
		})
	}

	c.queue.Replace(device.CollectCharacteristics(services, func(ch *device.CharacteristicDescriptor) bool {
		return ch.Properties.Readable()
	}))
	c.drainNext()
}

// drainNext issues the next queued read when none is in flight.
func (c *Client) drainNext() {
	char, ok := c.queue.DrainNext()
	if !ok {
		return
	}

	gen := c.gen
	link := c.link
	c.helpers.Go(c.linkContext(), "hrmon-read", func(ctx context.Context) {
		payload, err := link.ReadCharacteristic(ctx, char)
		c.post(readCompleted{tagged: tagged{gen}, char: char, payload: payload, err: err})
	})
}

func (c *Client) onReadCompleted(e readCompleted) {
	if c.state != Ready || !c.queue.Complete(e.char) {
		return
	}

	if e.err != nil {
		c.logger.WithFields(logrus.Fields{
			"characteristic": device.ShortUUID(e.char.UUID),
			"error":          e.err,
		}).Warn("Characteristic read failed")
		c.emitError(&device.ReadError{Characteristic: e.char.UUID, Err: e.err})
	} else {
		c.deliverMeasurement(e.char, e.payload, SourceRead)
	}
	c.drainNext()
}

func (c *Client) onSubscribeCompleted(e subscribeCompleted) {
	c.subs.Complete(e.char, e.err)
	c.publishStatus()
	if e.err == nil {
		c.logger.WithField("characteristic", device.ShortUUID(e.char.UUID)).Debug("Notifications enabled")
		return
	}
	c.logger.WithFields(logrus.Fields{
		"characteristic": device.ShortUUID(e.char.UUID),
		"error":          e.err,
	}).Warn("Failed to enable notifications")
	c.emitError(&device.SubscribeError{Characteristic: e.char.UUID, Err: e.err})
}

// deliverMeasurement decodes payload and queues the reading. Reads are
// presented as hex and notifications as text; heart rate always decodes as
// HeartRate.
func (c *Client) deliverMeasurement(char *device.CharacteristicDescriptor, payload []byte, source Source) {
	format := frame.FormatText
	if source == SourceRead {
		format = frame.FormatHex
	}

	m, err := frame.Decode(char.UUID, payload, format)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"characteristic": device.ShortUUID(char.UUID),
			"payload":        frame.RawBytes(payload).String(),
		}).Debug("Dropping undecodable payload")
		c.emitError(err)
		return
	}

	c.emit(notice{reading: &Reading{
		Peripheral:     c.peripheral,
		Characteristic: char.UUID,
		Source:         source,
		Measurement:    m,
		At:             time.Now(),
	}})
}

// fail reports err and resets the client through Disconnecting to Idle.
func (c *Client) fail(err error) {
	c.logger.WithFields(logrus.Fields{
		"peripheral": c.peripheral.String(),
		"error":      err,
	}).Error("Connection failed")
	c.setState(Failed, err)
	c.emitError(err)
	c.beginTeardown()
}

// beginTeardown invalidates every in-flight event of the current connection and
// releases the link on a helper goroutine. cleanupComplete follows once the link
// and any dial still in progress are closed.
func (c *Client) beginTeardown() {
	c.gen++
	gen := c.gen

	if c.linkCancel != nil {
		c.linkCancel()
	}
	c.queue.Clear()
	release := c.subs.Release()

	link := c.link
	a := c.attempt
	c.link = nil
	c.attempt = nil
	c.linkCancel = nil
	c.linkCtx = nil
	c.services = nil

	done := make(chan struct{})
	c.lastTeardown = done
	c.setState(Disconnecting, nil)

	timeout := c.opts.UnsubscribeTimeout
	c.helpers.Go(context.Background(), "hrmon-teardown", func(context.Context) {
		if a != nil {
			<-a.done
			if a.link != nil && a.link != link {
				if err := a.link.Close(); err != nil {
					c.logger.WithError(err).Debug("Closing superseded link failed")
				}
			}
		}
		if link != nil {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			release(ctx)
			cancel()
			if err := link.Close(); err != nil {
				c.logger.WithError(err).Debug("Closing link failed")
			}
		}
		close(done)
		c.post(cleanupComplete{tagged: tagged{gen}})
	})
}

func (c *Client) onCleanupComplete() bool {
	if c.state != Disconnecting {
		return false
	}
	c.setState(Idle, nil)
	c.logger.Info("Disconnected")

	if c.shuttingDown {
		return true
	}
	if next := c.pendingConnect; next != nil {
		c.pendingConnect = nil
		c.startConnect(*next)
	}
	return false
}

// setState applies a lifecycle edge and publishes the new snapshot. Illegal
// edges are logged and ignored.
func (c *Client) setState(to State, reason error) bool {
	from := c.state
	if !canTransition(from, to) {
		c.logger.WithFields(logrus.Fields{
			"from": from.String(),
			"to":   to.String(),
		}).Warn("Ignoring illegal state transition")
		return false
	}

	c.state = to
	switch to {
	case Connecting:
		c.reason = nil
	case Failed:
		c.reason = reason
	case Idle:
		c.peripheral = device.PeripheralHandle{}
	}

	st := c.publishStatus()
	c.logger.WithFields(logrus.Fields{
		"from": from.String(),
		"to":   to.String(),
	}).Debug("State changed")
	c.emit(notice{status: &st})
	return true
}

// publishStatus stores the snapshot read by State and Status.
func (c *Client) publishStatus() Status {
	st := Status{
		State:      c.state,
		Peripheral: c.peripheral,
		Reason:     c.reason,
		Notifying:  c.subs.Active(),
	}
	c.status.Store(&st)
	return st
}

func (c *Client) emitError(err error) {
	c.emit(notice{err: err})
}

// emit queues n for subscribers without blocking.
func (c *Client) emit(n notice) {
	if dropped := c.delivery.Send(n); dropped {
		c.logger.WithField("capacity", c.delivery.Cap()).Warn("Delivery buffer full, dropped oldest notice")
	}
}

func (c *Client) deliverLoop() {
	defer close(c.deliveryDone)
	for {
		n, ok := c.delivery.Receive()
		if !ok {
			return
		}
		c.opts.Dispatcher(func() { c.deliver(n) })
	}
}

func (c *Client) deliver(n notice) {
	c.subMu.RLock()
	subs := make([]Subscriber, 0, c.subscribers.Len())
	for pair := c.subscribers.Oldest(); pair != nil; pair = pair.Next() {
		subs = append(subs, pair.Value)
	}
	c.subMu.RUnlock()

	for _, s := range subs {
		switch {
		case n.reading != nil && s.OnMeasurement != nil:
			s.OnMeasurement(*n.reading)
		case n.connected != nil && s.OnConnected != nil:
			s.OnConnected(n.connected.peripheral, n.connected.services)
		case n.err != nil && s.OnError != nil:
			s.OnError(n.err)
		case n.status != nil && s.OnStateChange != nil:
			s.OnStateChange(*n.status)
		}
	}
}
