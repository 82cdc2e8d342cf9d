package client

import (
	"github.com/srg/hrmon/internal/device"
)

// State is the connection lifecycle state of a Client.
type State int

const (
	Idle State = iota
	Scanning
	Connecting
	DiscoveringServices
	Ready
	Disconnecting
	Failed
)

var stateNames = map[State]string{
	Idle:                "idle",
	Scanning:            "scanning",
	Connecting:          "connecting",
	DiscoveringServices: "discovering_services",
	Ready:               "ready",
	Disconnecting:       "disconnecting",
	Failed:              "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Connected reports whether the state holds a transport link or is acquiring one.
func (s State) Connected() bool {
	switch s {
	case Connecting, DiscoveringServices, Ready:
		return true
	}
	return false
}

// transitions lists every legal edge of the lifecycle. Disconnecting is reachable
// from any connection state; Failed always resets through Disconnecting.
var transitions = map[State][]State{
	Idle:                {Scanning, Connecting},
	Scanning:            {Idle, Connecting},
	Connecting:          {DiscoveringServices, Failed, Disconnecting},
	DiscoveringServices: {Ready, Failed, Disconnecting},
	Ready:               {Disconnecting},
	Failed:              {Disconnecting},
	Disconnecting:       {Idle},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Status is a snapshot of the client lifecycle.
type Status struct {
	State State
	// Peripheral is the device being connected or connected to; zero when Idle.
	Peripheral device.PeripheralHandle
	// Reason is the failure that put the client in Failed. It is kept on the
	// following Disconnecting and Idle states until the next connect.
	Reason error
	// Notifying counts characteristics with pushes enabled on the connection.
	Notifying int
}
