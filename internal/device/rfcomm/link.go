package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/hrmon/internal/device"
	"github.com/srg/hrmon/internal/groutine"
)

// Stream buffer sizing.
const (
	DefaultReadCap  = 4096
	readChunkSize   = 256
	dispatchChunkSz = 512
)

// link is an RFCOMM serial connection exposed as a single notifiable
// characteristic. Each newline-terminated line is one notification.
//
// Two goroutines move data: the reader copies socket bytes into a ring buffer,
// the dispatcher drains it through the line framer. A slow consumer loses bytes
// at the ring buffer, never blocks the socket.
type link struct {
	address  string
	conn     io.ReadWriteCloser
	onNotify device.NotificationHandler
	logger   *logrus.Logger

	char    *device.CharacteristicDescriptor
	service *device.ServiceDescriptor

	readBuf   *ringbuffer.RingBuffer
	dataReady chan struct{}
	streaming atomic.Bool

	readBytes   atomic.Uint64
	droppedRead atomic.Uint64

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

func newLink(address string, conn io.ReadWriteCloser, onNotify device.NotificationHandler, logger *logrus.Logger) *link {
	svc := device.NewServiceDescriptor(device.SerialPortProfile)
	char := svc.AddCharacteristic(device.SerialPortProfile, device.PropNotify)

	l := &link{
		address:   address,
		conn:      conn,
		onNotify:  onNotify,
		logger:    logger,
		char:      char,
		service:   svc,
		readBuf:   ringbuffer.New(DefaultReadCap),
		dataReady: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	l.wg.Add(2)
	groutine.Go(context.Background(), "rfcomm-read-loop", func(ctx context.Context) {
		defer l.wg.Done()
		l.readLoop()
	})
	groutine.Go(context.Background(), "rfcomm-dispatcher", func(ctx context.Context) {
		defer l.wg.Done()
		l.dispatchLoop()
	})
	return l
}

func (l *link) Address() string { return l.address }

func (l *link) Disconnected() <-chan struct{} { return l.done }

func (l *link) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *link) markClosed() {
	l.doneOnce.Do(func() { close(l.done) })
}

// DiscoverServices reports the serial port as one service with one notifiable
// characteristic.
func (l *link) DiscoverServices(ctx context.Context) ([]*device.ServiceDescriptor, error) {
	if l.isClosed() {
		return nil, device.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []*device.ServiceDescriptor{l.service}, nil
}

// ReadCharacteristic is not available on a serial stream.
func (l *link) ReadCharacteristic(_ context.Context, char *device.CharacteristicDescriptor) ([]byte, error) {
	return nil, fmt.Errorf("rfcomm read %s: %w", device.ShortUUID(char.UUID), device.ErrUnsupported)
}

// WriteDescriptor toggles line delivery when the client configuration descriptor
// of the serial characteristic is written.
func (l *link) WriteDescriptor(ctx context.Context, char *device.CharacteristicDescriptor, descriptor uuid.UUID, value []byte) error {
	if l.isClosed() {
		return device.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if char.UUID != l.char.UUID || descriptor != device.ClientCharacteristicConfig {
		return fmt.Errorf("rfcomm descriptor %s: %w", device.ShortUUID(descriptor), device.ErrUnsupported)
	}

	cfg, err := device.ParseClientConfig(value)
	if err != nil {
		return err
	}
	enabled := cfg.Notifications || cfg.Indications
	l.streaming.Store(enabled)
	l.logger.WithFields(logrus.Fields{
		"address": l.address,
		"enabled": enabled,
	}).Debug("RFCOMM line delivery toggled")
	return nil
}

// readLoop copies socket bytes into the ring buffer until the socket fails.
func (l *link) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			written, writeErr := l.readBuf.Write(buf[:n])
			if writeErr != nil && !errors.Is(writeErr, ringbuffer.ErrIsFull) {
				l.logger.Warnf("readLoop Write error: %v", writeErr)
			}
			if written < n {
				dropped := n - written
				l.droppedRead.Add(uint64(dropped))
				l.logger.Warnf("Read buffer overflow: dropped %d bytes from RFCOMM (received %d, only buffered %d)",
					dropped, n, written)
			}
			l.readBytes.Add(uint64(written))

			select {
			case l.dataReady <- struct{}{}:
			default:
			}
		}
		if err != nil {
			if !l.isClosed() && !errors.Is(err, os.ErrClosed) {
				l.logger.WithFields(logrus.Fields{
					"address": l.address,
					"error":   err,
				}).Warn("RFCOMM stream ended")
			}
			l.markClosed()
			return
		}
	}
}

// dispatchLoop drains the ring buffer through the framer and delivers lines.
func (l *link) dispatchLoop() {
	framer := newLineFramer(DefaultMaxFrame)
	tmp := make([]byte, dispatchChunkSz)
	for {
		select {
		case <-l.done:
			return
		case <-l.dataReady:
		}

		for {
			n, err := l.readBuf.TryRead(tmp)
			if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
				break
			}
			for _, frame := range framer.Feed(tmp[:n]) {
				if l.onNotify == nil || !l.streaming.Load() || l.isClosed() {
					continue
				}
				l.onNotify(l.char, frame)
			}
		}
	}
}

// Close shuts the socket and waits for both loops to exit. Safe to call more
// than once.
func (l *link) Close() error {
	l.closeOnce.Do(func() {
		l.markClosed()
		if err := l.conn.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			l.closeErr = err
		}
		l.wg.Wait()
		l.logger.WithFields(logrus.Fields{
			"address":      l.address,
			"read_bytes":   l.readBytes.Load(),
			"dropped_read": l.droppedRead.Load(),
		}).Info("RFCOMM link closed")
	})
	return l.closeErr
}
