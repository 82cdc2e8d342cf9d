package client

import (
	"time"

	"github.com/google/uuid"
	"github.com/srg/hrmon/internal/device"
	"github.com/srg/hrmon/internal/frame"
)

// event is an input of the client actor. Events produced by transport helpers
// carry the connection generation they belong to; the actor drops events whose
// generation has been superseded.
type event interface {
	generation() uint64
}

// untagged is embedded by events that come from the public API and are never
// stale.
type untagged struct{}

func (untagged) generation() uint64 { return 0 }

type tagged struct{ gen uint64 }

func (t tagged) generation() uint64 { return t.gen }

type (
	connectRequested struct {
		untagged
		handle device.PeripheralHandle
	}
	disconnectRequested struct{ untagged }
	shutdownRequested   struct{ untagged }

	scanStarted struct {
		untagged
		session uint64
	}
	scanEnded struct {
		untagged
		session uint64
	}

	transportConnected struct {
		tagged
		link device.Link
	}
	transportError struct {
		tagged
		err error
	}
	servicesEnumerated struct {
		tagged
		services []*device.ServiceDescriptor
	}
	discoveryError struct {
		tagged
		err error
	}
	readCompleted struct {
		tagged
		char    *device.CharacteristicDescriptor
		payload []byte
		err     error
	}
	subscribeCompleted struct {
		tagged
		char *device.CharacteristicDescriptor
		err  error
	}
	notificationReceived struct {
		tagged
		char    *device.CharacteristicDescriptor
		payload []byte
	}
	transportDropped struct{ tagged }
	cleanupComplete  struct{ tagged }
)

// Source tells how a reading reached the client.
type Source string

const (
	SourceRead         Source = "read"
	SourceNotification Source = "notification"
)

// Reading is one decoded value delivered to subscribers.
type Reading struct {
	Peripheral     device.PeripheralHandle
	Characteristic uuid.UUID
	Source         Source
	Measurement    frame.Measurement
	At             time.Time
}

// notice is one entry of the delivery buffer. Exactly one field is set.
type notice struct {
	reading   *Reading
	connected *connectedNotice
	err       error
	status    *Status
}

type connectedNotice struct {
	peripheral device.PeripheralHandle
	services   []*device.ServiceDescriptor
}

// Subscriber receives client output. Nil callbacks are skipped.
//
// Callbacks run through the client's Dispatcher, one at a time and in the order
// the client produced them.
type Subscriber struct {
	OnMeasurement func(r Reading)
	OnConnected   func(p device.PeripheralHandle, services []*device.ServiceDescriptor)
	OnError       func(err error)
	OnStateChange func(s Status)
}

// Dispatcher runs a subscriber callback. The default runs it inline on the
// delivery goroutine; a UI would post it to its own loop instead.
type Dispatcher func(fn func())

func inlineDispatcher(fn func()) { fn() }
