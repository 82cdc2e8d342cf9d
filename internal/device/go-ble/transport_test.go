package goble

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/device"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type TransportTestSuite struct {
	suite.Suite
	originalFactory func(string) (HostDevice, error)
	logger          *logrus.Logger
}

func (suite *TransportTestSuite) SetupSuite() {
	suite.originalFactory = DeviceFactory
	suite.logger = logrus.New()
	suite.logger.SetLevel(logrus.DebugLevel)
}

func (suite *TransportTestSuite) TearDownTest() {
	DeviceFactory = suite.originalFactory
}

func (suite *TransportTestSuite) TestRadioStateFromDeviceInit() {
	// GOAL: Verify radio capability queries reflect the normalized host device error
	//
	// TEST SCENARIO: Factory fails with platform messages → Supported/Enabled/Permitted → CheckRadio sentinel
	tests := []struct {
		name      string
		initErr   error
		expectErr error
	}{
		{
			name:      "darwin powered off",
			initErr:   fmt.Errorf("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
			expectErr: device.ErrRadioDisabled,
		},
		{
			name:      "linux missing capability",
			initErr:   fmt.Errorf("can't init hci: operation not permitted"),
			expectErr: device.ErrPermissionDenied,
		},
		{
			name:      "no adapter",
			initErr:   fmt.Errorf("can't init hci: no such device"),
			expectErr: device.ErrUnsupportedTransport,
		},
		{
			name:      "ready",
			initErr:   nil,
			expectErr: nil,
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			DeviceFactory = func(string) (HostDevice, error) {
				if tt.initErr != nil {
					return nil, tt.initErr
				}
				return &mockHostDevice{}, nil
			}

			err := device.CheckRadio(New("hci0", suite.logger))

			if tt.expectErr == nil {
				suite.NoError(err, "a working host device MUST pass the radio check")
				return
			}
			suite.ErrorIs(err, tt.expectErr, "radio check MUST map the init error to the expected sentinel")
		})
	}
}

func (suite *TransportTestSuite) TestScanNormalizesErrors() {
	// GOAL: Verify scan errors are normalized and that ending the session through ctx is not an error
	//
	// TEST SCENARIO: Scan returns various errors → sentinel mapping or nil on cancellation
	suite.Run("bluetooth off", func() {
		dev := &mockHostDevice{}
		dev.On("Scan", mock.Anything, true, mock.Anything).Return(errors.New("bluetooth is turned off"))
		DeviceFactory = func(string) (HostDevice, error) { return dev, nil }

		err := New("", suite.logger).Scan(context.Background(), func(device.Advertisement) {})

		suite.ErrorIs(err, device.ErrRadioDisabled, "error chain MUST contain ErrRadioDisabled")
		suite.Contains(err.Error(), "bluetooth is turned off", "error message MUST keep original text")
	})

	suite.Run("cancelled session", func() {
		dev := &mockHostDevice{}
		dev.On("Scan", mock.Anything, true, mock.Anything).Return(context.Canceled)
		DeviceFactory = func(string) (HostDevice, error) { return dev, nil }

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := New("", suite.logger).Scan(ctx, func(device.Advertisement) {})

		suite.NoError(err, "scan ended by its own context MUST return nil")
	})

	suite.Run("unknown error passes through", func() {
		dev := &mockHostDevice{}
		dev.On("Scan", mock.Anything, true, mock.Anything).Return(errors.New("some other error"))
		DeviceFactory = func(string) (HostDevice, error) { return dev, nil }

		err := New("", suite.logger).Scan(context.Background(), func(device.Advertisement) {})

		suite.EqualError(err, "some other error")
		suite.NotErrorIs(err, device.ErrRadioDisabled)
	})
}

func (suite *TransportTestSuite) TestDialFailure() {
	// GOAL: Verify dial failures are wrapped with the target address
	//
	// TEST SCENARIO: Dial returns an error → Transport.Dial error names the address
	dev := &mockHostDevice{}
	dev.On("Dial", mock.Anything, mock.Anything).Return(nil, errors.New("connection timed out"))
	DeviceFactory = func(string) (HostDevice, error) { return dev, nil }

	link, err := New("", suite.logger).Dial(context.Background(), "AA:BB:CC:DD:EE:FF", nil)

	suite.Nil(link)
	suite.ErrorContains(err, `"AA:BB:CC:DD:EE:FF"`)

	_, err = New("", suite.logger).Dial(context.Background(), "  ", nil)
	suite.EqualError(err, "device address is empty")
}

func (suite *TransportTestSuite) TestAdvertisementWrapper() {
	adv := NewAdvertisement(fakeAdvertisement{name: "HRSTM", addr: "aa:bb:cc:dd:ee:ff", rssi: -60, manuf: []byte{1, 2}})

	suite.Equal("HRSTM", adv.LocalName())
	suite.Equal("aa:bb:cc:dd:ee:ff", adv.Addr())
	suite.Equal(-60, adv.RSSI())
	suite.True(adv.Connectable())
	suite.Equal([]byte{1, 2}, adv.ManufacturerData())
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}

// ----------------------------
// Link
// ----------------------------

type LinkTestSuite struct {
	suite.Suite
	logger *logrus.Logger

	hrChar   *ble.Characteristic
	locChar  *ble.Characteristic
	userDesc *ble.Descriptor
	profile  *ble.Profile
}

func (suite *LinkTestSuite) SetupTest() {
	suite.logger = logrus.New()
	suite.logger.SetLevel(logrus.DebugLevel)

	suite.userDesc = &ble.Descriptor{UUID: ble.UUID16(0x2901)}
	suite.hrChar = &ble.Characteristic{UUID: ble.UUID16(0x2a37), Property: ble.CharNotify}
	suite.locChar = &ble.Characteristic{
		UUID:        ble.UUID16(0x2a38),
		Property:    ble.CharRead,
		Descriptors: []*ble.Descriptor{suite.userDesc},
	}
	suite.profile = &ble.Profile{Services: []*ble.Service{{
		UUID:            ble.UUID16(0x180d),
		Characteristics: []*ble.Characteristic{suite.hrChar, suite.locChar},
	}}}
}

func (suite *LinkTestSuite) discover(client gattClient, onNotify device.NotificationHandler) (*link, []*device.ServiceDescriptor) {
	l := newLink("aa:bb:cc:dd:ee:ff", client, onNotify, suite.logger)
	services, err := l.DiscoverServices(context.Background())
	suite.Require().NoError(err, "discovery MUST succeed")
	return l, services
}

func (suite *LinkTestSuite) TestDiscoverServicesKeepsOrder() {
	// GOAL: Verify the go-ble profile is converted into ordered descriptors with matching properties
	//
	// TEST SCENARIO: DiscoverProfile returns one service with two characteristics → one ServiceDescriptor in order
	client := &mockGattClient{}
	client.On("DiscoverProfile", true).Return(suite.profile, nil)

	_, services := suite.discover(client, nil)

	suite.Require().Len(services, 1)
	suite.Equal(device.HeartRateService, services[0].UUID)
	chars := services[0].Characteristics()
	suite.Require().Len(chars, 2)
	suite.Equal(device.HeartRateMeasurement, chars[0].UUID)
	suite.True(chars[0].Properties.Notifiable(), "notify property MUST carry over")
	suite.Equal(device.BodySensorLocation, chars[1].UUID)
	suite.True(chars[1].Properties.Readable(), "read property MUST carry over")
}

func (suite *LinkTestSuite) TestDiscoverFailure() {
	client := &mockGattClient{}
	client.On("DiscoverProfile", true).Return(nil, errors.New("att: timeout"))

	l := newLink("aa:bb:cc:dd:ee:ff", client, nil, suite.logger)
	_, err := l.DiscoverServices(context.Background())

	suite.ErrorContains(err, "failed to discover profile")
}

func (suite *LinkTestSuite) TestReadCharacteristic() {
	client := &mockGattClient{}
	client.On("DiscoverProfile", true).Return(suite.profile, nil)
	client.On("ReadCharacteristic", suite.locChar).Return([]byte{0x01}, nil)

	l, services := suite.discover(client, nil)
	loc, _ := services[0].Characteristic(device.BodySensorLocation)

	data, err := l.ReadCharacteristic(context.Background(), loc)

	suite.NoError(err)
	suite.Equal([]byte{0x01}, data)

	_, err = l.ReadCharacteristic(context.Background(), &device.CharacteristicDescriptor{
		UUID: device.BatteryLevel, Service: device.BatteryService,
	})
	var notFound *device.NotFoundError
	suite.ErrorAs(err, &notFound, "unknown characteristic MUST report NotFoundError")
}

func (suite *LinkTestSuite) TestCCCDWriteSubscribes() {
	// GOAL: Verify writing the enable value to 0x2902 subscribes through go-ble and routes notifications
	//
	// TEST SCENARIO: Write 01 00 → Subscribe(notify) → go-ble handler fires → onNotify gets a copy of the payload
	var captured ble.NotificationHandler
	client := &mockGattClient{}
	client.On("DiscoverProfile", true).Return(suite.profile, nil)
	client.On("Subscribe", suite.hrChar, false, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(2).(ble.NotificationHandler) }).
		Return(nil)
	client.On("Unsubscribe", suite.hrChar, false).Return(nil)
	client.On("Unsubscribe", suite.hrChar, true).Return(errors.New("not subscribed"))

	type note struct {
		char    *device.CharacteristicDescriptor
		payload []byte
	}
	notes := make(chan note, 1)
	l, services := suite.discover(client, func(char *device.CharacteristicDescriptor, payload []byte) {
		notes <- note{char, payload}
	})
	hr, _ := services[0].Characteristic(device.HeartRateMeasurement)

	err := l.WriteDescriptor(context.Background(), hr, device.ClientCharacteristicConfig, device.EnableNotificationValue)
	suite.Require().NoError(err, "CCCD enable MUST succeed")
	suite.Require().NotNil(captured, "go-ble Subscribe MUST receive a handler")

	raw := []byte{0x00, 0x4B}
	captured(raw)
	raw[1] = 0x00

	select {
	case n := <-notes:
		suite.Same(hr, n.char)
		suite.Equal([]byte{0x00, 0x4B}, n.payload, "payload MUST be copied before delivery")
	case <-time.After(time.Second):
		suite.Fail("notification MUST reach onNotify")
	}

	err = l.WriteDescriptor(context.Background(), hr, device.ClientCharacteristicConfig, device.DisableNotificationValue)
	suite.NoError(err, "disable MUST succeed when one mode unsubscribes")
}

func (suite *LinkTestSuite) TestOtherDescriptorWrite() {
	client := &mockGattClient{}
	client.On("DiscoverProfile", true).Return(suite.profile, nil)
	client.On("WriteDescriptor", suite.userDesc, []byte("chest")).Return(nil)

	l, services := suite.discover(client, nil)
	loc, _ := services[0].Characteristic(device.BodySensorLocation)

	suite.NoError(l.WriteDescriptor(context.Background(), loc, device.UUID16(0x2901), []byte("chest")))

	err := l.WriteDescriptor(context.Background(), loc, device.UUID16(0x2904), []byte{0})
	var notFound *device.NotFoundError
	suite.ErrorAs(err, &notFound)
	client.AssertExpectations(suite.T())
}

func (suite *LinkTestSuite) TestRemoteDisconnectClosesLink() {
	// GOAL: Verify a go-ble disconnect notification closes Disconnected() and rejects further calls
	//
	// TEST SCENARIO: Client Disconnected() fires → link Disconnected() closes → reads fail with ErrNotConnected → Close still cancels once
	client := &disconnectingClient{disconnected: make(chan struct{})}
	client.On("DiscoverProfile", true).Return(suite.profile, nil)
	client.On("CancelConnection").Return(nil).Once()

	l, services := suite.discover(client, nil)
	close(client.disconnected)

	select {
	case <-l.Disconnected():
	case <-time.After(time.Second):
		suite.Fail("link MUST observe the remote disconnect")
	}

	loc, _ := services[0].Characteristic(device.BodySensorLocation)
	_, err := l.ReadCharacteristic(context.Background(), loc)
	suite.ErrorIs(err, device.ErrNotConnected)

	suite.NoError(l.Close())
	suite.NoError(l.Close(), "second Close MUST be a no-op")
	client.AssertNumberOfCalls(suite.T(), "CancelConnection", 1)
}

func TestLinkTestSuite(t *testing.T) {
	suite.Run(t, new(LinkTestSuite))
}
