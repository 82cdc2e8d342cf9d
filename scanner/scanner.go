// Package scanner runs bounded discovery sessions and forwards peripherals whose
// advertised name matches a filter.
package scanner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/device"
	"github.com/srg/hrmon/internal/groutine"
	"github.com/srg/hrmon/internal/ringchan"
)

// DefaultTimeout bounds a scan session when the caller does not choose one.
const DefaultTimeout = 10 * time.Second

const (
	candidateBuffer = 16
	eventBuffer     = 100
)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceEvent reports every named advertisement seen, matching or not.
type DeviceEvent struct {
	Type       DeviceEventType
	Peripheral device.PeripheralHandle
}

// ScanOptions configures one scan session
type ScanOptions struct {
	// NameFilter is matched exactly, ignoring case, against the advertised name.
	// Empty forwards every named device.
	NameFilter string
	// Timeout ends the session; 0 scans until Stop or ctx is done.
	Timeout time.Duration
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions(name string) ScanOptions {
	return ScanOptions{NameFilter: name, Timeout: DefaultTimeout}
}

// Matches reports whether an advertised name passes the filter.
func (o ScanOptions) Matches(name string) bool {
	if name == "" {
		return false
	}
	return o.NameFilter == "" || strings.EqualFold(name, o.NameFilter)
}

// Session is one running scan. C delivers one handle per matching discovery
// event and is closed when the session ends.
type Session struct {
	C <-chan device.PeripheralHandle

	opts   ScanOptions
	out    chan device.PeripheralHandle
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed after the session has ended and C has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the transport failure that ended the session, if any. It is only
// meaningful once Done is closed.
func (s *Session) Err() error { return s.err }

// Scanner handles device discovery over one transport. At most one session runs
// at a time.
type Scanner struct {
	transport device.Transport
	devices   *hashmap.Map[string, device.PeripheralHandle]
	events    *ringchan.RingChannel[DeviceEvent]
	logger    *logrus.Logger

	mu      sync.Mutex
	current *Session
}

// NewScanner creates a scanner over transport
func NewScanner(transport device.Transport, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		transport: transport,
		devices:   hashmap.New[string, device.PeripheralHandle](),
		events:    ringchan.New[DeviceEvent](eventBuffer),
		logger:    logger,
	}
}

// Start begins a session and returns its candidate channel. See StartSession.
func (s *Scanner) Start(ctx context.Context, opts ScanOptions) (<-chan device.PeripheralHandle, error) {
	sess, err := s.StartSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	return sess.C, nil
}

// StartSession checks the radio, stops any running session and waits for it to
// end, then starts a new one. Radio failures are returned as the device
// sentinels and are not retried.
func (s *Scanner) StartSession(ctx context.Context, opts ScanOptions) (*Session, error) {
	if err := device.CheckRadio(s.transport); err != nil {
		s.logger.WithError(err).Warn("Scan refused by radio check")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.current; prev != nil {
		s.logger.Debug("Stopping previous scan before restart")
		prev.cancel()
		<-prev.done
	}

	var sctx context.Context
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		sctx, cancel = context.WithCancel(ctx)
	}

	out := make(chan device.PeripheralHandle, candidateBuffer)
	sess := &Session{
		C:      out,
		opts:   opts,
		out:    out,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.current = sess

	s.logger.WithFields(logrus.Fields{
		"transport": s.transport.Kind(),
		"filter":    opts.NameFilter,
		"timeout":   opts.Timeout,
	}).Info("Starting scan...")

	groutine.Go(sctx, "hrmon-scan", func(ctx context.Context) {
		s.run(ctx, sess)
	})
	return sess, nil
}

func (s *Scanner) run(ctx context.Context, sess *Session) {
	defer close(sess.done)
	defer close(sess.out)
	defer sess.cancel()

	err := s.transport.Scan(ctx, func(adv device.Advertisement) {
		s.handleAdvertisement(ctx, sess, adv)
	})
	if err != nil && !device.IsCancellation(err) {
		sess.err = fmt.Errorf("scan failed: %w", err)
		s.logger.WithError(err).Warn("Scan ended with error")
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("Scan completed")
}

// handleAdvertisement records the device and forwards it when it matches.
func (s *Scanner) handleAdvertisement(ctx context.Context, sess *Session, adv device.Advertisement) {
	if adv.Addr() == "" || adv.LocalName() == "" {
		return
	}

	handle := device.PeripheralFromAdvertisement(s.transport.Kind(), adv)
	event := DeviceEvent{Type: EventUpdated, Peripheral: handle}
	if _, existing := s.devices.Get(handle.ID()); !existing {
		event.Type = EventNew
		s.logger.WithFields(logrus.Fields{
			"device":  handle.Name(),
			"address": handle.Address(),
			"rssi":    handle.RSSI(),
		}).Debug("Discovered new device")
	}
	s.devices.Set(handle.ID(), handle)
	s.events.Send(event)

	if !sess.opts.Matches(handle.Name()) || ctx.Err() != nil {
		return
	}

	select {
	case sess.out <- handle:
	case <-ctx.Done():
	}
}

// Stop ends the running session, if any, and waits for it to finish. Safe to
// call at any time.
func (s *Scanner) Stop() {
	s.mu.Lock()
	sess := s.current
	s.current = nil
	s.mu.Unlock()

	if sess == nil {
		return
	}
	sess.cancel()
	<-sess.done
}

// Scanning reports whether a session is running.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return false
	}
	select {
	case <-s.current.done:
		return false
	default:
		return true
	}
}

// Devices returns a snapshot of every named device seen by any session.
func (s *Scanner) Devices() []device.PeripheralHandle {
	devs := make([]device.PeripheralHandle, 0, s.devices.Len())
	s.devices.Range(func(_ string, value device.PeripheralHandle) bool {
		devs = append(devs, value)
		return true
	})
	return devs
}

// Events return a read-only channel of device events. The buffer keeps the
// newest events when nobody reads it.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
