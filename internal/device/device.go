package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NotFoundError represents an error when a GATT resource is not found on a link
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[0])
}

// ConnectionState represents the specific kind of link state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
)

// ConnectionError represents a link used in the wrong state
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
)

// Radio and connection-level errors. These are terminal for the call or the
// connection attempt that produced them.
var (
	ErrUnsupportedTransport   = errors.New("bluetooth transport is not supported")
	ErrRadioDisabled          = errors.New("bluetooth is turned off")
	ErrPermissionDenied       = errors.New("bluetooth permission denied")
	ErrConnectionLost         = errors.New("connection lost")
	ErrServiceDiscoveryFailed = errors.New("service discovery failed")
)

// Per-operation errors. They never tear a connection down.
var (
	ErrReadFailed      = errors.New("characteristic read failed")
	ErrSubscribeFailed = errors.New("notification subscription failed")
	ErrDecode          = errors.New("decode error")
	ErrUnsupported     = errors.New("unsupported")
)

// ReadError reports a failed read of a single characteristic.
type ReadError struct {
	Characteristic uuid.UUID
	Err            error
}

func (e *ReadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("read %s: %v", ShortUUID(e.Characteristic), ErrReadFailed)
	}
	return fmt.Sprintf("read %s: %v: %v", ShortUUID(e.Characteristic), ErrReadFailed, e.Err)
}

func (e *ReadError) Is(target error) bool { return target == ErrReadFailed }
func (e *ReadError) Unwrap() error        { return e.Err }

// SubscribeError reports a failed notification enable for a single characteristic.
type SubscribeError struct {
	Characteristic uuid.UUID
	Err            error
}

func (e *SubscribeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("subscribe %s: %v", ShortUUID(e.Characteristic), ErrSubscribeFailed)
	}
	return fmt.Sprintf("subscribe %s: %v: %v", ShortUUID(e.Characteristic), ErrSubscribeFailed, e.Err)
}

func (e *SubscribeError) Is(target error) bool { return target == ErrSubscribeFailed }
func (e *SubscribeError) Unwrap() error        { return e.Err }

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// IsCancellation reports whether err only signals that the caller gave up.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ContainsIgnoreCase checks substring case-insensitively. Transport variants use it
// to map backend error strings onto the sentinels above.
func ContainsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
