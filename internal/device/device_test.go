package device_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/gattc/internal/device"
	"github.com/srg/gattc/internal/profile"
	"github.com/srg/gattc/internal/radio"
	"github.com/srg/gattc/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	testConn    uint16 = 1
	testTimeout        = time.Second
	shortWait          = 30 * time.Millisecond
)

// routeTo delivers radio events straight to one device, standing in for the
// registry and dispatcher.
func routeTo(d *device.Device) radio.Handler {
	return func(ev radio.Event) {
		switch e := ev.(type) {
		case radio.PeripheralConnect:
			d.HandleConnect(e.Conn)
		case radio.PeripheralDisconnect:
			d.HandleDisconnect()
		case radio.ServiceResult:
			d.HandleServiceResult(e)
		case radio.ServiceDone:
			d.HandleServiceDone(e)
		case radio.CharacteristicResult:
			d.HandleCharacteristicResult(e)
		case radio.CharacteristicDone:
			d.HandleCharacteristicDone(e)
		case radio.DescriptorResult:
			d.HandleDescriptorResult(e)
		case radio.DescriptorDone:
			d.HandleDescriptorDone(e)
		case radio.ReadResult:
			d.HandleReadResult(e)
		case radio.ReadDone:
			d.HandleReadDone(e)
		case radio.WriteDone:
			d.HandleWriteDone(e)
		case radio.Notify:
			d.HandleNotification(e.ValueHandle, e.Data, false)
		case radio.Indicate:
			d.HandleNotification(e.ValueHandle, e.Data, true)
		}
	}
}

type DeviceTestSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	tr     *testutils.MockTransport
	peer   radio.PeerIdentity
	dev    *device.Device
	ctx    context.Context
}

func (s *DeviceTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.tr = testutils.NewMockTransport()
	s.peer = radio.PeerIdentity{AddrType: radio.AddrPublic, Addr: radio.MustParseAddress("C4:7C:8D:6A:3A:27")}
	s.dev = device.New(s.peer, s.tr, device.WithLogger(s.helper.Logger), device.WithNotificationBuffer(4))
	s.tr.SetHandler(routeTo(s.dev))
	s.ctx = context.Background()
}

func (s *DeviceTestSuite) TearDownTest() {
	s.tr.Wait()
	s.tr.AssertExpectations(s.T())
}

func (s *DeviceTestSuite) connect() {
	s.tr.On("Connect", s.peer).Run(func(mock.Arguments) {
		s.tr.EmitAsync(radio.PeripheralConnect{Conn: testConn, Peer: s.peer})
	}).Return(nil).Once()
	s.Require().NoError(s.dev.Connect(s.ctx, testTimeout), "MUST connect successfully")
}

func (s *DeviceTestSuite) expectRead(handle uint16, events ...radio.Event) {
	s.tr.On("Read", testConn, handle).Run(func(mock.Arguments) {
		if len(events) > 0 {
			s.tr.EmitAsync(events...)
		}
	}).Return(nil).Once()
}

func (s *DeviceTestSuite) TestInitialState() {
	s.Equal(device.StateIdle, s.dev.State())
	s.False(s.dev.IsBusy())
	s.False(s.dev.IsConnected())
	_, ok := s.dev.ConnHandle()
	s.False(ok)
}

func (s *DeviceTestSuite) TestConnect() {
	// GOAL: Verify connect blocks until the radio reports the connection
	//
	// TEST SCENARIO: Connect → transport emits peripheral-connect → state connected, handle bound, not busy
	s.connect()

	s.Equal(device.StateConnected, s.dev.State())
	s.False(s.dev.IsBusy())
	conn, ok := s.dev.ConnHandle()
	s.True(ok)
	s.Equal(testConn, conn)
	s.Contains(s.helper.LogOutput(), "Device connected")
}

func (s *DeviceTestSuite) TestConnectTimeout() {
	// GOAL: Verify a connect whose event never arrives times out and leaves the device idle
	//
	// TEST SCENARIO: Connect → no event → ErrTimeout → state idle, no handle
	s.tr.On("Connect", s.peer).Return(nil).Once()

	err := s.dev.Connect(s.ctx, shortWait)
	s.Require().ErrorIs(err, device.ErrTimeout)
	s.Equal(device.StateIdle, s.dev.State())
	_, ok := s.dev.ConnHandle()
	s.False(ok)
}

func (s *DeviceTestSuite) TestConnectFailed() {
	// GOAL: Verify a disconnect while connecting fails the connect attempt
	//
	// TEST SCENARIO: Connect → peripheral-disconnect → ErrConnectFailed → state idle
	s.tr.On("Connect", s.peer).Run(func(mock.Arguments) {
		s.tr.EmitAsync(radio.PeripheralDisconnect{Conn: radio.InvalidConn, Peer: s.peer})
	}).Return(nil).Once()

	err := s.dev.Connect(s.ctx, testTimeout)
	s.Require().ErrorIs(err, device.ErrConnectFailed)
	s.Equal(device.StateIdle, s.dev.State())
}

func (s *DeviceTestSuite) TestConnectTransportError() {
	s.tr.On("Connect", s.peer).Return(errors.New("adapter powered off")).Once()

	err := s.dev.Connect(s.ctx, testTimeout)
	s.Require().ErrorContains(err, "adapter powered off")
	s.Equal(device.StateIdle, s.dev.State())
}

func (s *DeviceTestSuite) TestConnectWhenAlreadyConnected() {
	s.connect()

	err := s.dev.Connect(s.ctx, testTimeout)
	s.Require().ErrorIs(err, device.ErrAlreadyConnected)
	s.True(device.IsConnectionState(err, device.AlreadyConnected))
	s.tr.AssertNumberOfCalls(s.T(), "Connect", 1)
}

func (s *DeviceTestSuite) TestReadHandle() {
	// GOAL: Verify read_handle returns the captured value and returns the device to connected
	//
	// TEST SCENARIO: Read 0x38 → read-result + read-done → bytes returned → state connected
	s.connect()
	s.expectRead(0x38,
		radio.ReadResult{Conn: testConn, ValueHandle: 0x38, Data: []byte{0x3c, 0x00, '3', '.', '2', '.', '1'}},
		radio.ReadDone{Conn: testConn, ValueHandle: 0x38},
	)

	data, err := s.dev.ReadHandle(s.ctx, 0x38, testTimeout)
	s.Require().NoError(err)
	s.Equal([]byte{0x3c, 0x00, '3', '.', '2', '.', '1'}, data)
	s.Equal(device.StateConnected, s.dev.State())
}

func (s *DeviceTestSuite) TestReadHandle_DoneWithZeroHandle() {
	// Some stacks report read-done without the value handle.
	s.connect()
	s.expectRead(0x03,
		radio.ReadResult{Conn: testConn, ValueHandle: 0x03, Data: []byte("Flower care")},
		radio.ReadDone{Conn: testConn},
	)

	data, err := s.dev.ReadHandle(s.ctx, 0x03, testTimeout)
	s.Require().NoError(err)
	s.Equal("Flower care", string(data))
}

func (s *DeviceTestSuite) TestReadHandle_NotConnected() {
	// GOAL: Verify reads on a disconnected device fail without touching the radio
	//
	// TEST SCENARIO: Read on idle device → ErrNotConnected → no Read command issued
	_, err := s.dev.ReadHandle(s.ctx, 0x38, testTimeout)
	s.Require().ErrorIs(err, device.ErrNotConnected)
	s.tr.AssertNotCalled(s.T(), "Read", mock.Anything, mock.Anything)
}

func (s *DeviceTestSuite) TestReadHandle_BusyFailsFast() {
	// GOAL: Verify a second operation while one is in flight fails immediately
	//
	// TEST SCENARIO: Read 0x38 pending → Read 0x41 → ErrBusy, no transport command → first read completes
	s.connect()
	s.expectRead(0x38)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.dev.ReadHandle(s.ctx, 0x38, testTimeout)
		errCh <- err
	}()

	st, err := s.dev.WaitForStateChange(s.ctx, device.StateConnected, testTimeout)
	s.Require().NoError(err)
	s.Require().Equal(device.StateReading, st)
	s.True(s.dev.IsBusy())

	_, err = s.dev.ReadHandle(s.ctx, 0x41, testTimeout)
	s.Require().ErrorIs(err, device.ErrBusy)
	s.tr.AssertNotCalled(s.T(), "Read", testConn, uint16(0x41))

	s.tr.Emit(
		radio.ReadResult{Conn: testConn, ValueHandle: 0x38, Data: []byte{0x3c}},
		radio.ReadDone{Conn: testConn, ValueHandle: 0x38},
	)
	s.Require().NoError(<-errCh)
	s.Equal(device.StateConnected, s.dev.State())
}

func (s *DeviceTestSuite) TestReadHandle_DoneWithoutResult() {
	// GOAL: Verify a read-done without a preceding read-result yields ErrReadFailed, not a hang
	//
	// TEST SCENARIO: Read → read-done only → ErrReadFailed → state connected
	s.connect()
	s.expectRead(0x38, radio.ReadDone{Conn: testConn, ValueHandle: 0x38})

	_, err := s.dev.ReadHandle(s.ctx, 0x38, testTimeout)
	s.Require().ErrorIs(err, device.ErrReadFailed)
	s.Equal(device.StateConnected, s.dev.State())
}

func (s *DeviceTestSuite) TestReadHandle_ResultForOtherHandle() {
	s.connect()
	s.expectRead(0x38,
		radio.ReadResult{Conn: testConn, ValueHandle: 0x41, Data: []byte{1, 2, 3, 4}},
		radio.ReadDone{Conn: testConn},
	)

	_, err := s.dev.ReadHandle(s.ctx, 0x38, testTimeout)
	s.Require().ErrorIs(err, device.ErrReadFailed)
}

func (s *DeviceTestSuite) TestReadHandle_TimeoutDiscardsLateResult() {
	// GOAL: Verify a timed-out read cannot corrupt the next read
	//
	// TEST SCENARIO: Read → no done → ErrTimeout → late result/done arrive → dropped →
	//                next read returns its own value
	s.connect()
	s.expectRead(0x38)

	_, err := s.dev.ReadHandle(s.ctx, 0x38, shortWait)
	s.Require().ErrorIs(err, device.ErrTimeout)
	s.Equal(device.StateConnected, s.dev.State())

	s.tr.Emit(
		radio.ReadResult{Conn: testConn, ValueHandle: 0x38, Data: []byte("stale")},
		radio.ReadDone{Conn: testConn, ValueHandle: 0x38},
	)
	s.Equal(device.StateConnected, s.dev.State())

	s.expectRead(0x38,
		radio.ReadResult{Conn: testConn, ValueHandle: 0x38, Data: []byte("fresh")},
		radio.ReadDone{Conn: testConn, ValueHandle: 0x38},
	)
	data, err := s.dev.ReadHandle(s.ctx, 0x38, testTimeout)
	s.Require().NoError(err)
	s.Equal("fresh", string(data))
	s.Contains(s.helper.LogOutput(), "stale read result")
}

func (s *DeviceTestSuite) TestReadHandle_Status() {
	s.connect()
	s.expectRead(0x38, radio.ReadDone{Conn: testConn, ValueHandle: 0x38, Status: 0x02})

	_, err := s.dev.ReadHandle(s.ctx, 0x38, testTimeout)
	s.Require().ErrorIs(err, device.ErrGATTStatus)
	s.ErrorIs(err, device.ErrReadFailed)
	s.Contains(err.Error(), "read 0x0038:")

	var se *device.StatusError
	s.Require().ErrorAs(err, &se)
	s.Equal(0x02, se.Status)
	s.Equal(uint16(0x38), se.Handle)
	s.Equal(device.StateConnected, s.dev.State())
}

func (s *DeviceTestSuite) TestReadHandle_StatusFailsProfileRead() {
	// GOAL: Verify a status-only read-done surfaces through profile reads as ReadFailed
	//
	// TEST SCENARIO: read-done with status 0x02 and no result → BatteryLevel fails with ReadFailed and GATT status
	s.connect()
	s.expectRead(profile.HandleFirmwareAndBattery,
		radio.ReadDone{Conn: testConn, ValueHandle: profile.HandleFirmwareAndBattery, Status: 0x02})

	_, err := profile.NewFlowerCare(s.dev, testTimeout).BatteryLevel(s.ctx)
	s.Require().ErrorIs(err, device.ErrReadFailed)
	s.ErrorIs(err, device.ErrGATTStatus)
	s.NotErrorIs(err, profile.ErrDecode)
	s.Equal(device.StateConnected, s.dev.State())
}

func (s *DeviceTestSuite) TestReadHandle_ContextCancelled() {
	s.connect()
	s.expectRead(0x38)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := s.dev.ReadHandle(ctx, 0x38, testTimeout)
	s.Require().ErrorIs(err, context.Canceled)
	s.Equal(device.StateConnected, s.dev.State())
}

func (s *DeviceTestSuite) TestReadHandle_DisconnectMidFlight() {
	// GOAL: Verify a disconnect during a read fails the read and resets the device
	//
	// TEST SCENARIO: Read → peripheral-disconnect → ErrReadFailed and ErrConnectionLost → state idle, no handle
	s.connect()
	s.expectRead(0x38, radio.PeripheralDisconnect{Conn: testConn, Peer: s.peer})

	_, err := s.dev.ReadHandle(s.ctx, 0x38, testTimeout)
	s.Require().ErrorIs(err, device.ErrReadFailed)
	s.Require().ErrorIs(err, device.ErrConnectionLost)
	s.Equal(device.StateIdle, s.dev.State())
	_, ok := s.dev.ConnHandle()
	s.False(ok)
}

func (s *DeviceTestSuite) TestLifecycle_ConnectReadReadDisconnect() {
	// GOAL: Verify the device is idle before, connected between, and idle after a session
	//
	// TEST SCENARIO: connect → read → read → disconnect, checking state at every step
	s.Equal(device.StateIdle, s.dev.State())
	s.connect()

	for _, h := range []uint16{0x03, 0x38} {
		s.expectRead(h,
			radio.ReadResult{Conn: testConn, ValueHandle: h, Data: []byte{byte(h)}},
			radio.ReadDone{Conn: testConn, ValueHandle: h},
		)
		data, err := s.dev.ReadHandle(s.ctx, h, testTimeout)
		s.Require().NoError(err)
		s.Equal([]byte{byte(h)}, data)
		s.Equal(device.StateConnected, s.dev.State())
		s.False(s.dev.IsBusy())
	}

	s.tr.On("Disconnect", testConn).Run(func(mock.Arguments) {
		s.tr.EmitAsync(radio.PeripheralDisconnect{Conn: testConn, Peer: s.peer})
	}).Return(nil).Once()
	s.Require().NoError(s.dev.Disconnect(s.ctx, testTimeout))
	s.Equal(device.StateIdle, s.dev.State())

	// Disconnecting an idle device is a no-op.
	s.Require().NoError(s.dev.Disconnect(s.ctx, testTimeout))
}

func (s *DeviceTestSuite) TestDisconnectTimeoutRestoresConnected() {
	s.connect()
	s.tr.On("Disconnect", testConn).Return(nil).Once()

	err := s.dev.Disconnect(s.ctx, shortWait)
	s.Require().ErrorIs(err, device.ErrTimeout)
	s.Equal(device.StateConnected, s.dev.State())
}

func (s *DeviceTestSuite) TestWaitForStateChange() {
	st, err := s.dev.WaitForStateChange(s.ctx, device.StateIdle, shortWait)
	s.Require().ErrorIs(err, device.ErrTimeout)
	s.Equal(device.StateIdle, st)

	// Already different: returns at once.
	st, err = s.dev.WaitForStateChange(s.ctx, device.StateReading, shortWait)
	s.Require().NoError(err)
	s.Equal(device.StateIdle, st)

	s.tr.EmitAfter(5*time.Millisecond, radio.PeripheralConnect{Conn: testConn, Peer: s.peer})
	st, err = s.dev.WaitForStateChange(s.ctx, device.StateIdle, testTimeout)
	s.Require().NoError(err)
	s.Equal(device.StateConnected, st)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err = s.dev.WaitForStateChange(ctx, device.StateConnected, 0)
	s.Require().ErrorIs(err, context.Canceled)
}

func (s *DeviceTestSuite) TestWriteHandle() {
	s.connect()
	s.tr.On("Write", testConn, uint16(0x33), []byte{0xa0, 0x1f}, true).Run(func(mock.Arguments) {
		s.tr.EmitAsync(radio.WriteDone{Conn: testConn, ValueHandle: 0x33})
	}).Return(nil).Once()
	s.tr.On("Write", testConn, uint16(0x33), []byte{0xa0, 0x1f}, false).Return(nil).Once()

	s.Require().NoError(s.dev.WriteHandle(s.ctx, 0x33, []byte{0xa0, 0x1f}, true, testTimeout))
	s.Equal(device.StateConnected, s.dev.State())

	s.Require().NoError(s.dev.WriteHandle(s.ctx, 0x33, []byte{0xa0, 0x1f}, false, testTimeout))
	s.Equal(device.StateConnected, s.dev.State())
}

func (s *DeviceTestSuite) TestWriteHandle_Status() {
	s.connect()
	s.tr.On("Write", testConn, uint16(0x33), []byte{0x01}, true).Run(func(mock.Arguments) {
		s.tr.EmitAsync(radio.WriteDone{Conn: testConn, ValueHandle: 0x33, Status: 0x03})
	}).Return(nil).Once()

	err := s.dev.WriteHandle(s.ctx, 0x33, []byte{0x01}, true, testTimeout)
	s.Require().ErrorIs(err, device.ErrGATTStatus)
	s.Equal(device.StateConnected, s.dev.State())
}

var (
	genericAccess = ble.UUID16(0x1800)
	flowerService = ble.MustParse("0000fe95-0000-1000-8000-00805f9b34fb")
)

// expectProfile scripts discovery of a small two-service database:
//
//	0x0001-0x0007 generic access: 0x0002/0x0003 device name, 0x0004/0x0005 appearance
//	0x0008-0x000f vendor service: 0x0009/0x000a notify + CCCD 0x000b, 0x000c/0x000d read
func (s *DeviceTestSuite) expectProfile() {
	s.tr.On("DiscoverServices", testConn).Run(func(mock.Arguments) {
		s.tr.EmitAsync(
			radio.ServiceResult{Conn: testConn, StartHandle: 0x01, EndHandle: 0x07, UUID: genericAccess},
			radio.ServiceResult{Conn: testConn, StartHandle: 0x08, EndHandle: 0x0f, UUID: flowerService},
			radio.ServiceDone{Conn: testConn},
		)
	}).Return(nil).Once()
	s.tr.On("DiscoverCharacteristics", testConn, uint16(0x01), uint16(0x07)).Run(func(mock.Arguments) {
		s.tr.EmitAsync(
			radio.CharacteristicResult{Conn: testConn, DefHandle: 0x02, ValueHandle: 0x03, Properties: ble.CharRead, UUID: ble.UUID16(0x2a00)},
			radio.CharacteristicResult{Conn: testConn, DefHandle: 0x04, ValueHandle: 0x05, Properties: ble.CharRead, UUID: ble.UUID16(0x2a01)},
			radio.CharacteristicDone{Conn: testConn},
		)
	}).Return(nil).Once()
	s.tr.On("DiscoverCharacteristics", testConn, uint16(0x08), uint16(0x0f)).Run(func(mock.Arguments) {
		s.tr.EmitAsync(
			radio.CharacteristicResult{Conn: testConn, DefHandle: 0x09, ValueHandle: 0x0a, Properties: ble.CharNotify | ble.CharRead, UUID: ble.UUID16(0x1a01)},
			radio.CharacteristicResult{Conn: testConn, DefHandle: 0x0c, ValueHandle: 0x0d, Properties: ble.CharRead, UUID: ble.UUID16(0x1a02)},
			radio.CharacteristicDone{Conn: testConn},
		)
	}).Return(nil).Once()
	s.tr.On("DiscoverDescriptors", testConn, uint16(0x06), uint16(0x07)).Run(func(mock.Arguments) {
		s.tr.EmitAsync(radio.DescriptorDone{Conn: testConn, Status: 0x0a})
	}).Return(nil).Once()
	s.tr.On("DiscoverDescriptors", testConn, uint16(0x0b), uint16(0x0b)).Run(func(mock.Arguments) {
		s.tr.EmitAsync(
			radio.DescriptorResult{Conn: testConn, Handle: 0x0b, UUID: ble.UUID16(0x2902)},
			radio.DescriptorDone{Conn: testConn},
		)
	}).Return(nil).Once()
	s.tr.On("DiscoverDescriptors", testConn, uint16(0x0e), uint16(0x0f)).Run(func(mock.Arguments) {
		s.tr.EmitAsync(radio.DescriptorDone{Conn: testConn})
	}).Return(nil).Once()
}

func (s *DeviceTestSuite) TestDiscoverAll() {
	// GOAL: Verify full discovery walks services, characteristics and descriptor ranges
	//
	// TEST SCENARIO: DiscoverAll → 2 services, 4 characteristics, descriptor ranges derived
	//                from declaration handles → profile reflects discovery order
	s.connect()
	s.expectProfile()

	profile, err := s.dev.DiscoverAll(s.ctx, testTimeout)
	s.Require().NoError(err)
	s.Require().Len(profile, 2)

	s.True(profile[0].UUID.Equal(genericAccess))
	s.Require().Len(profile[0].Characteristics, 2)
	s.Equal(uint16(0x03), profile[0].Characteristics[0].ValueHandle)
	s.Empty(profile[0].Characteristics[0].Descriptors)

	s.True(profile[1].UUID.Equal(flowerService))
	s.Require().Len(profile[1].Characteristics, 2)
	notify := profile[1].Characteristics[0]
	s.Equal(uint16(0x0a), notify.ValueHandle)
	s.Require().Len(notify.Descriptors, 1)
	s.Equal(uint16(0x0b), notify.Descriptors[0].Handle)

	s.Equal(device.StateConnected, s.dev.State())
}

func (s *DeviceTestSuite) TestDiscoverServices_Status() {
	s.connect()
	s.tr.On("DiscoverServices", testConn).Run(func(mock.Arguments) {
		s.tr.EmitAsync(radio.ServiceDone{Conn: testConn, Status: 0x81})
	}).Return(nil).Once()

	_, err := s.dev.DiscoverServices(s.ctx, testTimeout)
	s.Require().ErrorIs(err, device.ErrGATTStatus)
	s.Equal(device.StateConnected, s.dev.State())
}

func (s *DeviceTestSuite) TestDiscoverCharacteristics_DropsOutOfRange() {
	s.connect()
	s.tr.On("DiscoverCharacteristics", testConn, uint16(0x01), uint16(0x07)).Run(func(mock.Arguments) {
		s.tr.EmitAsync(
			radio.CharacteristicResult{Conn: testConn, DefHandle: 0x02, ValueHandle: 0x03, UUID: ble.UUID16(0x2a00)},
			radio.CharacteristicResult{Conn: testConn, DefHandle: 0x20, ValueHandle: 0x21, UUID: ble.UUID16(0x2a01)},
			radio.CharacteristicDone{Conn: testConn},
		)
	}).Return(nil).Once()

	chars, err := s.dev.DiscoverCharacteristics(s.ctx, 0x01, 0x07, testTimeout)
	s.Require().NoError(err)
	s.Require().Len(chars, 1)
	s.Equal(uint16(0x03), chars[0].ValueHandle)
}

func (s *DeviceTestSuite) TestSubscribe_Notifications() {
	// GOAL: Verify subscribe writes the CCCD and notifications reach the channel
	//
	// TEST SCENARIO: DiscoverAll → Subscribe(0x0a) → write-done on CCCD 0x0b → notify events →
	//                values on Notifications() → disconnect closes the channel
	s.connect()
	s.expectProfile()
	_, err := s.dev.DiscoverAll(s.ctx, testTimeout)
	s.Require().NoError(err)

	s.tr.On("Subscribe", testConn, uint16(0x0a), uint16(0x0b), false).Run(func(mock.Arguments) {
		s.tr.EmitAsync(radio.WriteDone{Conn: testConn, ValueHandle: 0x0b})
	}).Return(nil).Once()
	s.Require().NoError(s.dev.Subscribe(s.ctx, 0x0a, false, testTimeout))

	c, ok := s.dev.Characteristic(0x0a)
	s.Require().True(ok)
	s.True(c.Subscribed)

	ch := s.dev.Notifications()
	s.tr.Emit(radio.Notify{Conn: testConn, ValueHandle: 0x0a, Data: []byte{0xde, 0xad}})

	select {
	case n := <-ch:
		s.Equal(uint16(0x0a), n.ValueHandle)
		s.Equal([]byte{0xde, 0xad}, n.Data)
		s.False(n.Indication)
	case <-time.After(testTimeout):
		s.Fail("notification not delivered")
	}

	s.tr.Emit(radio.PeripheralDisconnect{Conn: testConn, Peer: s.peer})
	_, open := <-ch
	s.False(open, "notification channel MUST close on disconnect")
}

func (s *DeviceTestSuite) TestSubscribe_Errors() {
	s.connect()

	err := s.dev.Subscribe(s.ctx, 0x0a, false, testTimeout)
	s.Require().ErrorIs(err, device.ErrNotDiscovered)

	s.expectProfile()
	_, err = s.dev.DiscoverAll(s.ctx, testTimeout)
	s.Require().NoError(err)

	err = s.dev.Subscribe(s.ctx, 0x0a, true, testTimeout)
	s.Require().ErrorIs(err, device.ErrNotSupported)

	err = s.dev.Subscribe(s.ctx, 0x0d, false, testTimeout)
	s.Require().ErrorIs(err, device.ErrNotDiscovered)

	s.tr.AssertNotCalled(s.T(), "Subscribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *DeviceTestSuite) TestNotifications_DropOldest() {
	s.connect()
	ch := s.dev.Notifications()
	for i := 0; i < 6; i++ {
		s.tr.Emit(radio.Indicate{Conn: testConn, ValueHandle: 0x0a, Data: []byte{byte(i)}})
	}

	var got []byte
	for len(ch) > 0 {
		n := <-ch
		s.True(n.Indication)
		got = append(got, n.Data[0])
	}
	s.Equal([]byte{2, 3, 4, 5}, got)
}

func (s *DeviceTestSuite) TestNotifications_DroppedWhenDisconnected() {
	s.dev.HandleNotification(0x0a, []byte{1}, false)
	s.Empty(s.dev.Notifications())
}

func (s *DeviceTestSuite) TestUpdateAdvertisement() {
	// GOAL: Verify scan results update metadata and merge the service UUID set
	//
	// TEST SCENARIO: two advertisements with overlapping UUID lists → union in first-seen order;
	//                malformed payload → error, earlier fields kept
	s.Require().NoError(s.dev.UpdateAdvertisement(radio.AdvInd, -60, []byte{0x02, 0x01, 0x06, 0x03, 0x03, 0xaa, 0xbb}))
	s.Require().NoError(s.dev.UpdateAdvertisement(radio.AdvScanRsp, -58, []byte{
		0x05, 0x03, 0xaa, 0xbb, 0x95, 0xfe,
		0x0c, 0x09, 'F', 'l', 'o', 'w', 'e', 'r', ' ', 'c', 'a', 'r', 'e',
	}))

	info := s.dev.Advertisement()
	s.Equal(radio.AdvScanRsp, info.AdvType)
	s.Equal(-58, info.RSSI)
	s.Equal("Flower care", info.LocalName)
	s.Require().Len(info.Services, 2)
	s.True(info.Services[0].Equal(ble.UUID16(0xbbaa)))
	s.True(info.Services[1].Equal(ble.UUID16(0xfe95)))
	s.False(info.LastSeen.IsZero())

	err := s.dev.UpdateAdvertisement(radio.AdvInd, -70, []byte{0x03, 0x03, 0x0f, 0x18, 0x09, 0xff})
	s.Require().Error(err)
	s.Equal(-70, s.dev.Advertisement().RSSI)
	s.Len(s.dev.Advertisement().Services, 3)
}

func TestDeviceTestSuite(t *testing.T) {
	suite.Run(t, new(DeviceTestSuite))
}

func TestState_String(t *testing.T) {
	cases := map[device.State]string{
		device.StateIdle:          "idle",
		device.StateConnecting:    "connecting",
		device.StateConnected:     "connected",
		device.StateDiscovering:   "discovering",
		device.StateReading:       "reading",
		device.StateWriting:       "writing",
		device.StateDisconnecting: "disconnecting",
		device.State(42):          "state(42)",
	}
	for st, want := range cases {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(st), got, want)
		}
	}
}

func TestParseState(t *testing.T) {
	for _, st := range []device.State{device.StateIdle, device.StateConnected, device.StateDisconnecting} {
		got, err := device.ParseState(st.String())
		if err != nil || got != st {
			t.Errorf("ParseState(%q) = %v, %v; want %v", st.String(), got, err, st)
		}
	}
	if _, err := device.ParseState("sleeping"); err == nil {
		t.Error("ParseState(\"sleeping\") succeeded, want error")
	}
}
