package client

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/srg/hrmon/internal/device"
	"github.com/srg/hrmon/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type SubscriptionManagerTestSuite struct {
	suite.Suite

	link    *testutils.FakeLink
	manager *SubscriptionManager
	hrm     *device.CharacteristicDescriptor
	battery *device.CharacteristicDescriptor
}

func (s *SubscriptionManagerTestSuite) SetupTest() {
	helper := testutils.NewTestHelper(s.T())
	s.link = testutils.NewFakeLink("AA:BB:CC:DD:EE:FF", testutils.HeartRateProfile(), nil)
	services, err := s.link.DiscoverServices(context.Background())
	s.Require().NoError(err)

	s.hrm, err = device.FindCharacteristic(services, device.HeartRateMeasurement)
	s.Require().NoError(err)
	s.battery, err = device.FindCharacteristic(services, device.BatteryLevel)
	s.Require().NoError(err)

	s.manager = NewSubscriptionManager(helper.Logger)
	s.manager.Bind(s.link)
}

func (s *SubscriptionManagerTestSuite) subscribe(char *device.CharacteristicDescriptor) error {
	op, ok := s.manager.Subscribe(char)
	s.Require().True(ok, "notifiable characteristic MUST be subscribable")
	err := op(context.Background())
	s.manager.Complete(char, err)
	return err
}

func (s *SubscriptionManagerTestSuite) TestSubscribeWritesOncePerConnection() {
	// GOAL: Verify the CCCD enable is written exactly once per connection
	//
	// TEST SCENARIO: subscribe → 01 00 written → subscribe again (pending and active) → no second write
	op, ok := s.manager.Subscribe(s.hrm)
	s.Require().True(ok)

	_, again := s.manager.Subscribe(s.hrm)
	s.False(again, "pending subscription MUST NOT be requested twice")

	s.Require().NoError(op(context.Background()))
	s.manager.Complete(s.hrm, nil)

	_, again = s.manager.Subscribe(s.hrm)
	s.False(again, "active subscription MUST NOT be requested twice")

	writes := s.link.Writes()
	s.Require().Len(writes, 1)
	s.Equal(device.ClientCharacteristicConfig, writes[0].Descriptor)
	s.Equal([]byte{0x01, 0x00}, writes[0].Value)
	s.True(s.manager.IsActive(s.hrm))
	s.Equal(1, s.manager.Active())
}

func (s *SubscriptionManagerTestSuite) TestSubscribeRejectsNonNotifiable() {
	// GOAL: Verify only notifiable characteristics can be subscribed
	//
	// TEST SCENARIO: read-only characteristic → Subscribe refused
	_, ok := s.manager.Subscribe(&device.CharacteristicDescriptor{UUID: device.BodySensorLocation, Properties: device.PropRead})

	s.False(ok)
	s.Empty(s.link.Writes())
}

func (s *SubscriptionManagerTestSuite) TestFailedEnableIsForgotten() {
	// GOAL: Verify a failed enable leaves the characteristic unsubscribed
	//
	// TEST SCENARIO: CCCD write fails → not active → Release writes nothing for it
	s.link.FailWrite(s.hrm.UUID, errors.New("write not permitted"))

	s.Error(s.subscribe(s.hrm))

	s.False(s.manager.IsActive(s.hrm))
	s.Zero(s.manager.Active())
	s.manager.Release()(context.Background())
	s.Len(s.link.Writes(), 1, "failed subscription MUST NOT be disabled on release")
}

func (s *SubscriptionManagerTestSuite) TestUnsubscribe() {
	// GOAL: Verify unsubscribe writes the disable value for active subscriptions only
	//
	// TEST SCENARIO: subscribe → unsubscribe → 00 00 written → second unsubscribe refused
	s.Require().NoError(s.subscribe(s.hrm))

	op, ok := s.manager.Unsubscribe(s.hrm)
	s.Require().True(ok)
	s.Require().NoError(op(context.Background()))

	_, ok = s.manager.Unsubscribe(s.hrm)
	s.False(ok, "inactive subscription MUST NOT be unsubscribed")

	writes := s.link.Writes()
	s.Require().Len(writes, 2)
	s.Equal([]byte{0x00, 0x00}, writes[1].Value)
}

func (s *SubscriptionManagerTestSuite) TestReleaseIsBestEffort() {
	// GOAL: Verify release disables every active subscription and tolerates a dead link
	//
	// TEST SCENARIO: two active subscriptions → link dropped → release returns without error, manager empty
	s.Require().NoError(s.subscribe(s.hrm))
	s.Require().NoError(s.subscribe(s.battery))
	s.Equal(2, s.manager.Active())

	release := s.manager.Release()
	s.Zero(s.manager.Active(), "release MUST forget every subscription")

	s.link.Drop()
	s.NotPanics(func() { release(context.Background()) })
	s.Len(s.link.Writes(), 2, "writes on a dropped link MUST be ignored")

	_, ok := s.manager.Subscribe(s.hrm)
	s.False(ok, "released manager MUST NOT subscribe without a link")
}

func (s *SubscriptionManagerTestSuite) TestBindResetsConnection() {
	// GOAL: Verify a new connection starts with no subscriptions
	//
	// TEST SCENARIO: subscribed on link A → bind link B → subscribe writes again on B
	s.Require().NoError(s.subscribe(s.hrm))

	next := testutils.NewFakeLink("AA:BB:CC:DD:EE:FF", testutils.HeartRateProfile(), nil)
	s.manager.Bind(next)
	s.False(s.manager.IsActive(s.hrm))

	op, ok := s.manager.Subscribe(s.hrm)
	s.Require().True(ok)
	s.Require().NoError(op(context.Background()))
	s.Len(next.Writes(), 1)
}

func (s *SubscriptionManagerTestSuite) TestSameCharacteristicInTwoServices() {
	// GOAL: Verify subscriptions are tracked per service, not per characteristic UUID alone
	//
	// TEST SCENARIO: FFF1 notifiable in services FFE0 and FFE5 → both CCCDs written → both active → release disables both
	profile := testutils.NewProfileBuilder().
		WithService("FFE0").
		WithCharacteristic("FFF1", "notify", nil).
		WithService("FFE5").
		WithCharacteristic("FFF1", "notify", nil)
	link := testutils.NewFakeLink("AA:BB:CC:DD:EE:FF", profile, nil)
	services, err := link.DiscoverServices(context.Background())
	s.Require().NoError(err)
	s.Require().Len(services, 2)
	first := services[0].Characteristics()[0]
	second := services[1].Characteristics()[0]
	s.manager.Bind(link)

	s.Require().NoError(s.subscribe(first))
	s.Require().NoError(s.subscribe(second))

	s.True(s.manager.IsActive(first))
	s.True(s.manager.IsActive(second))
	s.Equal(2, s.manager.Active(), "each service instance MUST have its own subscription")

	s.manager.Release()(context.Background())
	writes := link.Writes()
	s.Require().Len(writes, 4)
	s.Equal(device.MustParseUUID("FFE0"), writes[0].Service)
	s.Equal(device.MustParseUUID("FFE5"), writes[1].Service)
	s.ElementsMatch([]uuid.UUID{writes[0].Service, writes[1].Service}, []uuid.UUID{writes[2].Service, writes[3].Service},
		"release MUST disable the descriptor in every service")
}

func TestSubscriptionManagerTestSuite(t *testing.T) {
	suite.Run(t, new(SubscriptionManagerTestSuite))
}
