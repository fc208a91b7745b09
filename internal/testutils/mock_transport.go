package testutils

import (
	"sync"
	"time"

	"github.com/srg/gattc/internal/radio"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a radio.Transport driven by testify/mock expectations.
// Commands are recorded with Called; a test simulates the radio by emitting
// events from a Run hook:
//
//	tr.On("Read", uint16(1), uint16(0x38)).Run(func(mock.Arguments) {
//	    tr.EmitAsync(radio.ReadResult{...}, radio.ReadDone{...})
//	}).Return(nil)
//
// SetHandler is not an expectation; it just stores the handler.
type MockTransport struct {
	mock.Mock

	mu      sync.Mutex
	handler radio.Handler
	emitMu  sync.Mutex
	wg      sync.WaitGroup
}

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) SetHandler(h radio.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Emit delivers events to the handler on the calling goroutine, in order.
func (m *MockTransport) Emit(events ...radio.Event) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return
	}

	// One delivery at a time, as a real radio pump does.
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	for _, ev := range events {
		h(ev)
	}
}

// EmitAsync delivers events from another goroutine, after the command that
// triggered them has returned.
func (m *MockTransport) EmitAsync(events ...radio.Event) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		time.Sleep(time.Millisecond)
		m.Emit(events...)
	}()
}

// EmitAfter delivers events from another goroutine once delay has passed.
func (m *MockTransport) EmitAfter(delay time.Duration, events ...radio.Event) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		time.Sleep(delay)
		m.Emit(events...)
	}()
}

// Wait blocks until every asynchronous emission has been delivered.
func (m *MockTransport) Wait() {
	m.wg.Wait()
}

func (m *MockTransport) Scan(duration time.Duration) error {
	return m.Called(duration).Error(0)
}

func (m *MockTransport) Connect(peer radio.PeerIdentity) error {
	return m.Called(peer).Error(0)
}

func (m *MockTransport) Disconnect(conn uint16) error {
	return m.Called(conn).Error(0)
}

func (m *MockTransport) DiscoverServices(conn uint16) error {
	return m.Called(conn).Error(0)
}

func (m *MockTransport) DiscoverCharacteristics(conn uint16, start, end uint16) error {
	return m.Called(conn, start, end).Error(0)
}

func (m *MockTransport) DiscoverDescriptors(conn uint16, start, end uint16) error {
	return m.Called(conn, start, end).Error(0)
}

func (m *MockTransport) Read(conn uint16, valueHandle uint16) error {
	return m.Called(conn, valueHandle).Error(0)
}

func (m *MockTransport) Write(conn uint16, valueHandle uint16, data []byte, withResponse bool) error {
	return m.Called(conn, valueHandle, data, withResponse).Error(0)
}

func (m *MockTransport) Subscribe(conn uint16, valueHandle, cccdHandle uint16, indicate bool) error {
	return m.Called(conn, valueHandle, cccdHandle, indicate).Error(0)
}

func (m *MockTransport) Close() error {
	return m.Called().Error(0)
}
