package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/device"
	"github.com/srg/hrmon/internal/devicefactory"
	"github.com/srg/hrmon/pkg/config"
	"github.com/stretchr/testify/suite"
)

// FakeTransportSuite provides a reusable suite that routes
// devicefactory.TransportFactory to a FakeTransport for the duration of each test.
//
// Basic usage (heart rate strap profile, no advertisements):
//
//	type MonitorSuite struct {
//	    testutils.FakeTransportSuite
//	}
//
// Custom advertisements or profile are configured before calling the parent:
//
//	func (s *ScanSuite) SetupTest() {
//	    s.WithAdvertisements(
//	        testutils.CreateMockAdvertisement("HRSTM", "AA:BB:CC:DD:EE:FF", -40).Build(),
//	    )
//	    s.FakeTransportSuite.SetupTest() // Call parent last to apply configuration
//	}
type FakeTransportSuite struct {
	suite.Suite

	Helper      *TestHelper
	Logger      *logrus.Logger
	Transport   *FakeTransport
	TestTimeout time.Duration

	originalFactory func(*config.Config, *logrus.Logger) (device.Transport, error)
	advertisements  []device.Advertisement
	profile         *ProfileBuilder
	lastConfig      *config.Config
}

// WithAdvertisements queues advertisements for the next SetupTest.
func (s *FakeTransportSuite) WithAdvertisements(ads ...device.Advertisement) {
	s.advertisements = append(s.advertisements, ads...)
}

// WithPeripheral replaces the profile for the next SetupTest and returns its builder.
func (s *FakeTransportSuite) WithPeripheral() *ProfileBuilder {
	s.profile = NewProfileBuilder()
	return s.profile
}

func (s *FakeTransportSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	if s.TestTimeout == 0 {
		s.TestTimeout = 2 * time.Second
	}

	s.Transport = NewFakeTransport(device.KindBLE).WithAdvertisements(s.advertisements...)
	if s.profile != nil {
		s.Transport.WithProfile(s.profile)
	}

	s.originalFactory = devicefactory.TransportFactory
	devicefactory.TransportFactory = func(cfg *config.Config, _ *logrus.Logger) (device.Transport, error) {
		s.lastConfig = cfg
		return s.Transport, nil
	}
}

func (s *FakeTransportSuite) TearDownTest() {
	if s.originalFactory != nil {
		devicefactory.TransportFactory = s.originalFactory
	}
	s.advertisements = nil
	s.profile = nil
	s.lastConfig = nil
}

// LastConfig returns the configuration the code under test passed to the factory.
func (s *FakeTransportSuite) LastConfig() *config.Config {
	return s.lastConfig
}
