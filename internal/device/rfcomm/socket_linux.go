//go:build linux

package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/srg/hrmon/internal/device"
	"golang.org/x/sys/unix"
)

// pollTimeoutMs bounds each wait for connect completion before ctx is re-checked.
const pollTimeoutMs = 50

// dialSocket opens an RFCOMM stream socket to address on channel. The returned
// file is non-blocking and registered with the runtime poller, so Close unblocks
// a pending Read.
func dialSocket(ctx context.Context, address string, channel uint8) (io.ReadWriteCloser, error) {
	addr, err := parseBDAddr(address)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, mapSocketError(err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to set non-blocking mode: %w", err)
	}

	err = unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: addr, Channel: channel})
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		_ = unix.Close(fd)
		return nil, mapSocketError(err)
	}
	if err != nil {
		if err := waitConnected(ctx, fd); err != nil {
			_ = unix.Close(fd)
			return nil, err
		}
	}

	return os.NewFile(uintptr(fd), "rfcomm:"+address), nil
}

func waitConnected(ctx context.Context, fd int) error {
	pollFd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		nReady, err := unix.Poll(pollFd, pollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("connect poll: %w", err)
		}
		if nReady == 0 {
			continue // timeout, check context
		}

		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return fmt.Errorf("connect status: %w", err)
		}
		if soErr != 0 {
			return mapSocketError(unix.Errno(soErr))
		}
		return nil
	}
}

// probeSocket reports whether the process may create RFCOMM sockets.
func probeSocket() error {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return mapSocketError(err)
	}
	_ = unix.Close(fd)
	return nil
}

func mapSocketError(err error) error {
	switch {
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
	case errors.Is(err, unix.EAFNOSUPPORT), errors.Is(err, unix.EPROTONOSUPPORT):
		return fmt.Errorf("%w: %v", device.ErrUnsupportedTransport, err)
	case errors.Is(err, unix.ENETDOWN):
		return fmt.Errorf("%w: %v", device.ErrRadioDisabled, err)
	default:
		return fmt.Errorf("rfcomm socket: %w", err)
	}
}
