package rfcomm

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestLineFramer(t *testing.T) {
	tests := []struct {
		name     string
		chunks   []string
		expected []string
	}{
		{name: "single line", chunks: []string{"72\n"}, expected: []string{"72"}},
		{name: "crlf terminator", chunks: []string{"72\r\n"}, expected: []string{"72"}},
		{name: "split across chunks", chunks: []string{"7", "2\n8", "0\n"}, expected: []string{"72", "80"}},
		{name: "empty lines skipped", chunks: []string{"\n\r\n64\n"}, expected: []string{"64"}},
		{name: "no terminator yet", chunks: []string{"99"}, expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLineFramer(0)
			var got []string
			for _, c := range tt.chunks {
				for _, frame := range f.Feed([]byte(c)) {
					got = append(got, string(frame))
				}
			}
			assert.Equal(t, tt.expected, got)
		})
	}

	t.Run("oversized run is flushed", func(t *testing.T) {
		f := newLineFramer(4)
		frames := f.Feed([]byte("abcdef"))

		require.Len(t, frames, 1)
		assert.Equal(t, "abcdef", string(frames[0]))
	})
}

func TestParseBDAddr(t *testing.T) {
	addr, err := parseBDAddr("AA:BB:CC:DD:EE:0F")
	require.NoError(t, err)
	assert.Equal(t, [6]uint8{0x0F, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}, addr, "address MUST be little-endian")

	for _, bad := range []string{"", "AA:BB:CC:DD:EE", "AA:BB:CC:DD:EE:GG", "AAA:BB:CC:DD:EE:F"} {
		_, err := parseBDAddr(bad)
		assert.Error(t, err, "address %q MUST be rejected", bad)
	}
}

func TestAdvertisementFromProps(t *testing.T) {
	adv, ok := advertisementFromProps(map[string]dbus.Variant{
		"Address": dbus.MakeVariant("00:11:22:33:44:55"),
		"Name":    dbus.MakeVariant("HRSTM"),
		"RSSI":    dbus.MakeVariant(int16(-58)),
	})
	require.True(t, ok)
	assert.Equal(t, "HRSTM", adv.LocalName())
	assert.Equal(t, "00:11:22:33:44:55", adv.Addr())
	assert.Equal(t, -58, adv.RSSI())

	adv, ok = advertisementFromProps(map[string]dbus.Variant{
		"Address": dbus.MakeVariant("00:11:22:33:44:55"),
		"Alias":   dbus.MakeVariant("00-11-22-33-44-55"),
	})
	require.True(t, ok)
	assert.Equal(t, "", adv.LocalName(), "address-derived alias MUST NOT be used as a name")

	_, ok = advertisementFromProps(map[string]dbus.Variant{"Name": dbus.MakeVariant("HRSTM")})
	assert.False(t, ok, "devices without an address MUST be skipped")
}

func TestMapBluezError(t *testing.T) {
	assert.ErrorIs(t, mapBluezError(dbus.Error{Name: "org.bluez.Error.NotReady"}), device.ErrRadioDisabled)
	assert.ErrorIs(t, mapBluezError(dbus.Error{Name: "org.bluez.Error.NotAuthorized"}), device.ErrPermissionDenied)
	assert.ErrorIs(t, mapBluezError(dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownObject"}), device.ErrUnsupportedTransport)
	assert.NoError(t, mapBluezError(nil))

	other := errors.New("boom")
	assert.Same(t, other, mapBluezError(other))
}

type fakeBackend struct {
	powered    bool
	poweredErr error
	devices    []device.Advertisement
}

func (b *fakeBackend) Powered() (bool, error) { return b.powered, b.poweredErr }

func (b *fakeBackend) Discover(ctx context.Context, found func(device.Advertisement)) error {
	for _, d := range b.devices {
		found(d)
	}
	<-ctx.Done()
	return nil
}

type TransportTestSuite struct {
	suite.Suite
	logger *logrus.Logger

	origBackend func(string, *logrus.Logger) (Backend, error)
	origDialer  func(context.Context, string, uint8) (io.ReadWriteCloser, error)
	origProbe   func() error
}

func (suite *TransportTestSuite) SetupTest() {
	suite.logger = logrus.New()
	suite.logger.SetLevel(logrus.DebugLevel)
	suite.origBackend = BackendFactory
	suite.origDialer = SocketDialer
	suite.origProbe = SocketProbe
	SocketProbe = func() error { return nil }
}

func (suite *TransportTestSuite) TearDownTest() {
	BackendFactory = suite.origBackend
	SocketDialer = suite.origDialer
	SocketProbe = suite.origProbe
}

func (suite *TransportTestSuite) TestRadioChecks() {
	// GOAL: Verify the classic radio gate maps adapter state onto the device sentinels in order
	//
	// TEST SCENARIO: backend missing / unpowered / socket denied / ready → CheckRadio result
	suite.Run("no adapter", func() {
		BackendFactory = func(string, *logrus.Logger) (Backend, error) {
			return &fakeBackend{poweredErr: dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownObject"}}, nil
		}
		suite.ErrorIs(device.CheckRadio(New("hci0", 1, suite.logger)), device.ErrUnsupportedTransport)
	})

	suite.Run("powered off", func() {
		BackendFactory = func(string, *logrus.Logger) (Backend, error) { return &fakeBackend{powered: false}, nil }
		suite.ErrorIs(device.CheckRadio(New("hci0", 1, suite.logger)), device.ErrRadioDisabled)
	})

	suite.Run("socket denied", func() {
		BackendFactory = func(string, *logrus.Logger) (Backend, error) { return &fakeBackend{powered: true}, nil }
		SocketProbe = func() error { return device.ErrPermissionDenied }
		suite.ErrorIs(device.CheckRadio(New("hci0", 1, suite.logger)), device.ErrPermissionDenied)
	})

	suite.Run("ready", func() {
		BackendFactory = func(string, *logrus.Logger) (Backend, error) { return &fakeBackend{powered: true}, nil }
		SocketProbe = func() error { return nil }
		suite.NoError(device.CheckRadio(New("hci0", 1, suite.logger)))
	})
}

func (suite *TransportTestSuite) TestScanDelegatesToBackend() {
	adv := classicAdvertisement{name: "HRSTM", address: "00:11:22:33:44:55"}
	BackendFactory = func(string, *logrus.Logger) (Backend, error) {
		return &fakeBackend{powered: true, devices: []device.Advertisement{adv}}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var seen []device.Advertisement
	err := New("hci0", 1, suite.logger).Scan(ctx, func(a device.Advertisement) { seen = append(seen, a) })

	suite.NoError(err)
	suite.Equal([]device.Advertisement{adv}, seen)
}

func (suite *TransportTestSuite) TestLinkDeliversLines() {
	// GOAL: Verify a dialled RFCOMM link exposes one notifiable characteristic and delivers lines once enabled
	//
	// TEST SCENARIO: Dial over a pipe → discover → lines before enable dropped → enable CCCD → line delivered → remote close fires Disconnected
	local, remote := net.Pipe()
	SocketDialer = func(_ context.Context, address string, channel uint8) (io.ReadWriteCloser, error) {
		suite.Equal("00:11:22:33:44:55", address)
		suite.Equal(uint8(3), channel)
		return local, nil
	}

	lines := make(chan string, 4)
	l, err := New("hci0", 3, suite.logger).Dial(context.Background(), "00:11:22:33:44:55",
		func(char *device.CharacteristicDescriptor, payload []byte) {
			suite.Equal(device.SerialPortProfile, char.UUID)
			lines <- string(payload)
		})
	suite.Require().NoError(err)

	services, err := l.DiscoverServices(context.Background())
	suite.Require().NoError(err)
	suite.Require().Len(services, 1)
	chars := services[0].Characteristics()
	suite.Require().Len(chars, 1)
	suite.True(chars[0].Properties.Notifiable(), "serial characteristic MUST be notifiable")
	suite.False(chars[0].Properties.Readable(), "serial characteristic MUST NOT be readable")

	_, err = l.ReadCharacteristic(context.Background(), chars[0])
	suite.ErrorIs(err, device.ErrUnsupported)

	_, err = remote.Write([]byte("ignored\n"))
	suite.Require().NoError(err)
	time.Sleep(20 * time.Millisecond)

	suite.Require().NoError(l.WriteDescriptor(context.Background(), chars[0], device.ClientCharacteristicConfig, device.EnableNotificationValue))
	_, err = remote.Write([]byte("72 bpm\r\n"))
	suite.Require().NoError(err)

	select {
	case line := <-lines:
		suite.Equal("72 bpm", line, "line MUST be delivered without its terminator")
	case <-time.After(time.Second):
		suite.Fail("line MUST be delivered after enabling notifications")
	}
	suite.Empty(lines, "lines received before enabling MUST be dropped")

	suite.Require().NoError(remote.Close())
	select {
	case <-l.Disconnected():
	case <-time.After(time.Second):
		suite.Fail("remote close MUST fire Disconnected")
	}
	suite.NoError(l.Close())
	suite.NoError(l.Close(), "second Close MUST be a no-op")
}

func (suite *TransportTestSuite) TestDialFailure() {
	SocketDialer = func(context.Context, string, uint8) (io.ReadWriteCloser, error) {
		return nil, device.ErrPermissionDenied
	}

	_, err := New("hci0", 1, suite.logger).Dial(context.Background(), "00:11:22:33:44:55", nil)

	suite.ErrorIs(err, device.ErrPermissionDenied)
	suite.ErrorContains(err, `"00:11:22:33:44:55"`)
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}
