package central_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/gattc/internal/central"
	"github.com/srg/gattc/internal/device"
	"github.com/srg/gattc/internal/profile"
	"github.com/srg/gattc/internal/radio"
	"github.com/srg/gattc/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// bogusEvent is not part of the radio event set.
type bogusEvent struct{}

func (bogusEvent) Kind() radio.Kind { return radio.Kind(99) }

type CentralTestSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	tr     *testutils.MockTransport
	c      *central.Central
	ctx    context.Context

	flower radio.PeerIdentity
	other  radio.PeerIdentity
}

func (s *CentralTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.tr = testutils.NewMockTransport()
	s.c = central.New(s.tr, central.Options{Logger: s.helper.Logger, CloseTimeout: 100 * time.Millisecond})
	s.ctx = context.Background()
	s.flower = radio.PeerIdentity{AddrType: radio.AddrPublic, Addr: radio.MustParseAddress("C4:7C:8D:6A:3A:27")}
	s.other = radio.PeerIdentity{AddrType: radio.AddrRandom, Addr: radio.MustParseAddress("D0:11:22:33:44:55")}
}

func (s *CentralTestSuite) TearDownTest() {
	s.tr.Wait()
	s.tr.AssertExpectations(s.T())
}

func (s *CentralTestSuite) connect(conn uint16) *device.Device {
	s.tr.On("Connect", s.flower).Run(func(mock.Arguments) {
		s.tr.EmitAsync(radio.PeripheralConnect{Conn: conn, Peer: s.flower})
	}).Return(nil).Once()
	dev, err := s.c.Connect(s.ctx, s.flower, time.Second)
	s.Require().NoError(err, "MUST connect successfully")
	return dev
}

func (s *CentralTestSuite) TestScan() {
	// GOAL: Verify Scan blocks until scan-done and returns the devices seen
	//
	// TEST SCENARIO: scan → 3 results for 2 devices → scan-done → 2 devices, events new/new/updated
	s.tr.On("Scan", 2*time.Second).Run(func(mock.Arguments) {
		s.tr.EmitAsync(
			radio.ScanResult{Peer: s.flower, AdvType: radio.AdvInd, RSSI: -60, Data: []byte{0x02, 0x01, 0x06, 0x03, 0x03, 0x95, 0xfe}},
			radio.ScanResult{Peer: s.other, AdvType: radio.AdvNonconnInd, RSSI: -80, Data: []byte{0x02, 0x01, 0x04}},
			radio.ScanResult{Peer: s.flower, AdvType: radio.AdvScanRsp, RSSI: -58, Data: []byte{0x05, 0x09, 'F', 'l', 'o', 'w'}},
			radio.ScanDone{},
		)
	}).Return(nil).Once()

	devs, err := s.c.Scan(s.ctx, &central.ScanOptions{Duration: 2 * time.Second})
	s.Require().NoError(err)
	s.Require().Len(devs, 2)
	s.Equal(s.flower, devs[0].Identity())
	s.Equal(s.other, devs[1].Identity())
	s.Equal("Flow", devs[0].Advertisement().LocalName)
	s.False(s.c.Scanning())

	var types []central.DeviceEventType
	for len(s.c.Events()) > 0 {
		types = append(types, (<-s.c.Events()).Type)
	}
	s.Equal([]central.DeviceEventType{central.EventNew, central.EventNew, central.EventUpdated}, types)
}

func (s *CentralTestSuite) TestScan_Filters() {
	s.tr.On("Scan", time.Second).Run(func(mock.Arguments) {
		s.tr.EmitAsync(
			radio.ScanResult{Peer: s.flower, RSSI: -60, Data: []byte{0x03, 0x03, 0x95, 0xfe}},
			radio.ScanResult{Peer: s.other, RSSI: -80, Data: []byte{0x03, 0x03, 0x0f, 0x18}},
			radio.ScanDone{},
		)
	}).Return(nil).Times(3)

	devs, err := s.c.Scan(s.ctx, &central.ScanOptions{Duration: time.Second, ServiceUUIDs: []ble.UUID{ble.UUID16(0xfe95)}})
	s.Require().NoError(err)
	s.Require().Len(devs, 1)
	s.Equal(s.flower, devs[0].Identity())

	devs, err = s.c.Scan(s.ctx, &central.ScanOptions{Duration: time.Second, BlockList: []string{"c4:7c:8d:6a:3a:27"}})
	s.Require().NoError(err)
	s.Require().Len(devs, 1)
	s.Equal(s.other, devs[0].Identity())

	devs, err = s.c.Scan(s.ctx, &central.ScanOptions{Duration: time.Second, AllowList: []string{"D0:11:22:33:44:55"}})
	s.Require().NoError(err)
	s.Require().Len(devs, 1)
	s.Equal(s.other, devs[0].Identity())

	// Filtered devices are still known to the registry.
	s.Equal(2, s.c.Registry().Len())
}

func (s *CentralTestSuite) TestScan_InProgressAndCancel() {
	s.tr.On("Scan", time.Second).Return(nil).Once()

	ctx, cancel := context.WithCancel(s.ctx)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.c.Scan(ctx, &central.ScanOptions{Duration: time.Second})
		errCh <- err
	}()
	s.Eventually(s.c.Scanning, time.Second, time.Millisecond)

	_, err := s.c.Scan(s.ctx, &central.ScanOptions{Duration: time.Second})
	s.ErrorIs(err, central.ErrScanInProgress)

	cancel()
	s.ErrorIs(<-errCh, context.Canceled)
	s.False(s.c.Scanning())

	// The cancelled scan's late scan-done is swallowed; a second one is harmless.
	s.tr.Emit(radio.ScanDone{})
	s.Contains(s.helper.LogOutput(), "Dropped scan done of an abandoned scan")
	s.tr.Emit(radio.ScanDone{})
	s.Contains(s.helper.LogOutput(), "Scan done with no scan in progress")
}

func (s *CentralTestSuite) TestScan_AbandonedScanDoneDoesNotEndNextScan() {
	// GOAL: Verify the scan-done of a cancelled scan cannot complete the next scan
	//
	// TEST SCENARIO: scan 1 cancelled → scan 2 starts → stale scan-done, result, scan-done → scan 2 returns the device
	s.tr.On("Scan", time.Second).Return(nil).Once()
	s.tr.On("Scan", 2*time.Second).Run(func(mock.Arguments) {
		s.tr.EmitAsync(radio.ScanDone{})
		s.tr.EmitAfter(50*time.Millisecond,
			radio.ScanResult{Peer: s.flower, AdvType: radio.AdvInd, RSSI: -60, Data: []byte{0x02, 0x01, 0x06}},
			radio.ScanDone{},
		)
	}).Return(nil).Once()

	ctx, cancel := context.WithCancel(s.ctx)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.c.Scan(ctx, &central.ScanOptions{Duration: time.Second})
		errCh <- err
	}()
	s.Eventually(s.c.Scanning, time.Second, time.Millisecond)
	cancel()
	s.Require().ErrorIs(<-errCh, context.Canceled)

	devs, err := s.c.Scan(s.ctx, &central.ScanOptions{Duration: 2 * time.Second})
	s.Require().NoError(err)
	s.Require().Len(devs, 1)
	s.Equal(s.flower, devs[0].Identity())
	s.False(s.c.Scanning())
}

func (s *CentralTestSuite) TestConnectAndReadThroughDispatcher() {
	// GOAL: Verify the dispatcher routes GATT events by connection handle
	//
	// TEST SCENARIO: connect on handle 5 → battery read via profile → read events routed by handle → 60
	dev := s.connect(5)

	byConn, ok := s.c.Registry().GetByConn(5)
	s.Require().True(ok)
	s.Same(dev, byConn)

	s.tr.On("Read", uint16(5), profile.HandleFirmwareAndBattery).Run(func(mock.Arguments) {
		s.tr.EmitAsync(
			radio.ReadResult{Conn: 9, ValueHandle: 0x38, Data: []byte{0x01}},
			radio.ReadResult{Conn: 5, ValueHandle: 0x38, Data: []byte{0x3c, 0x00}},
			radio.ReadDone{Conn: 5, ValueHandle: 0x38},
		)
	}).Return(nil).Once()

	battery, err := profile.NewFlowerCare(dev, time.Second).BatteryLevel(s.ctx)
	s.Require().NoError(err)
	s.Equal(uint8(60), battery)
	s.Contains(s.helper.LogOutput(), "Dropping radio event")
}

func (s *CentralTestSuite) TestConnectTwiceResolvesToSameDevice() {
	first := s.connect(5)

	again, err := s.c.Connect(s.ctx, s.flower, time.Second)
	s.ErrorIs(err, device.ErrAlreadyConnected)
	s.Same(first, again)
	s.Equal(1, s.c.Registry().Len())
}

func (s *CentralTestSuite) TestUnknownHandlesAreDropped() {
	// GOAL: Verify events for unbound handles never fault
	//
	// TEST SCENARIO: every GATT event kind on an unknown handle → dropped with diagnostic, no panic
	s.NotPanics(func() {
		s.tr.Emit(
			radio.PeripheralDisconnect{Conn: 42},
			radio.ServiceResult{Conn: 42, StartHandle: 1, EndHandle: 5, UUID: ble.UUID16(0x1800)},
			radio.ServiceDone{Conn: 42},
			radio.CharacteristicResult{Conn: 42, DefHandle: 2, ValueHandle: 3},
			radio.CharacteristicDone{Conn: 42},
			radio.DescriptorResult{Conn: 42, Handle: 4},
			radio.DescriptorDone{Conn: 42},
			radio.ReadResult{Conn: 42, ValueHandle: 3},
			radio.ReadDone{Conn: 42, ValueHandle: 3},
			radio.WriteDone{Conn: 42, ValueHandle: 3},
			radio.Notify{Conn: 42, ValueHandle: 3},
			radio.Indicate{Conn: 42, ValueHandle: 3},
			bogusEvent{},
		)
	})

	out := s.helper.LogOutput()
	s.Contains(out, "unknown connection handle")
	s.Contains(out, "event=read-done")
	s.Contains(out, "Unhandled radio event")
}

func (s *CentralTestSuite) TestDisconnectAfterReadLeavesDeviceKnown() {
	dev := s.connect(5)

	s.tr.Emit(radio.PeripheralDisconnect{Conn: 5, Peer: s.flower})
	s.Equal(device.StateIdle, dev.State())
	_, ok := s.c.Registry().GetByConn(5)
	s.False(ok)
	known, ok := s.c.Device(s.flower)
	s.True(ok)
	s.Same(dev, known)

	// Late events for the released handle are dropped.
	s.tr.Emit(radio.ReadDone{Conn: 5, ValueHandle: 0x38})
	s.Equal(device.StateIdle, dev.State())
}

func (s *CentralTestSuite) TestClose() {
	s.connect(5)
	s.tr.On("Disconnect", uint16(5)).Run(func(mock.Arguments) {
		s.tr.EmitAsync(radio.PeripheralDisconnect{Conn: 5, Peer: s.flower})
	}).Return(nil).Once()
	s.tr.On("Close").Return(nil).Once()

	s.Require().NoError(s.c.Close())
	s.Require().NoError(s.c.Close())

	_, err := s.c.Connect(s.ctx, s.flower, time.Second)
	s.ErrorIs(err, central.ErrClosed)
	_, err = s.c.Scan(s.ctx, nil)
	s.ErrorIs(err, central.ErrClosed)
}

func TestCentralTestSuite(t *testing.T) {
	suite.Run(t, new(CentralTestSuite))
}
