package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/advdata"
	"github.com/srg/gattc/internal/radio"
	"github.com/srg/gattc/internal/ringchan"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultNotificationBuffer is the default capacity of the notification ring.
const DefaultNotificationBuffer = 64

// attAttributeNotFound is the ATT status that ends a discovery with no more results.
const attAttributeNotFound = 0x0a

// Notification is a value pushed by the peripheral.
type Notification struct {
	ValueHandle uint16
	Data        []byte
	Indication  bool
	Received    time.Time
}

// AdvertisementInfo is the advertising metadata last seen for a device.
type AdvertisementInfo struct {
	AdvType          radio.AdvType
	RSSI             int
	LocalName        string
	Services         []ble.UUID
	ManufacturerData []byte
	LastSeen         time.Time
}

type discoveryKind int

const (
	discoverNone discoveryKind = iota
	discoverServices
	discoverCharacteristics
	discoverDescriptors
)

// operation is the result slot of one in-flight operation. Every operation
// gets a fresh slot, so events that arrive after their operation was
// abandoned cannot leak into the next one.
type operation struct {
	state  State
	kind   discoveryKind
	handle uint16
	start  uint16
	end    uint16

	data     []byte
	captured bool

	services        []Service
	characteristics []Characteristic
	descriptors     []Descriptor

	done   bool
	lost   bool
	status int
}

func (o *operation) finished() bool { return o.done || o.lost }

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(logger *logrus.Logger) Option {
	return func(d *Device) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithNotificationBuffer sets the notification ring capacity.
func WithNotificationBuffer(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.notifyBuf = n
		}
	}
}

// Device is one observed or targeted peripheral. Its operations block the
// caller until the matching event arrives through the Handle* methods, which
// are invoked by the event dispatcher.
type Device struct {
	identity  radio.PeerIdentity
	transport radio.Transport
	logger    *logrus.Logger
	notifyBuf int

	mu       sync.Mutex
	state    State
	conn     uint16
	changed  chan struct{}
	op       *operation
	adv      AdvertisementInfo
	services *orderedmap.OrderedMap[string, ble.UUID]
	gatt     *Table
	notes    *ringchan.Ring[Notification]
}

// New creates a disconnected device.
func New(identity radio.PeerIdentity, transport radio.Transport, opts ...Option) *Device {
	d := &Device{
		identity:  identity,
		transport: transport,
		logger:    logrus.New(),
		notifyBuf: DefaultNotificationBuffer,
		changed:   make(chan struct{}),
		services:  orderedmap.New[string, ble.UUID](),
		gatt:      newTable(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.notes = ringchan.New[Notification](d.notifyBuf)
	return d
}

func (d *Device) Identity() radio.PeerIdentity { return d.identity }

func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// IsBusy reports whether an operation is in flight.
func (d *Device) IsBusy() bool {
	return d.State().Busy()
}

func (d *Device) IsConnected() bool {
	return d.State().HasConnection()
}

// ConnHandle returns the live connection handle, if any.
func (d *Device) ConnHandle() (uint16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn, d.state.HasConnection()
}

// Advertisement returns a copy of the advertising metadata.
func (d *Device) Advertisement() AdvertisementInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	info := d.adv
	info.Services = make([]ble.UUID, 0, d.services.Len())
	for p := d.services.Oldest(); p != nil; p = p.Next() {
		info.Services = append(info.Services, p.Value)
	}
	return info
}

// Notifications returns the channel notification values are delivered on.
// The channel is closed when the connection is lost.
func (d *Device) Notifications() <-chan Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notes.C()
}

// UpdateAdvertisement records a scan result. The service UUIDs it carries
// are merged into the device's service set. Fields decoded before a
// malformed record are still applied; the parse error is returned.
func (d *Device) UpdateAdvertisement(advType radio.AdvType, rssi int, data []byte) error {
	fields, err := advdata.Parse(data, advdata.WithLogger(d.logger, logrus.Fields{"device": d.identity.String()}))

	d.mu.Lock()
	defer d.mu.Unlock()
	d.adv.AdvType = advType
	d.adv.RSSI = rssi
	d.adv.LastSeen = time.Now()
	if fields == nil {
		return err
	}
	if fields.LocalName != "" {
		d.adv.LocalName = fields.LocalName
	}
	if fields.ManufacturerData != nil {
		d.adv.ManufacturerData = fields.ManufacturerData
	}
	for _, u := range fields.Services() {
		d.services.Set(u.String(), u)
	}
	return err
}

// WaitForStateChange blocks until the state differs from `from`. It returns
// the new state, or ErrTimeout once timeout elapses. A non-positive timeout
// waits until ctx is done.
func (d *Device) WaitForStateChange(ctx context.Context, from State, timeout time.Duration) (State, error) {
	var st State
	err := d.waitUntil(ctx, timeout, func() bool {
		st = d.state
		return st != from
	})
	return st, err
}

// waitUntil evaluates cond under the lock every time the state changes.
func (d *Device) waitUntil(ctx context.Context, timeout time.Duration, cond func() bool) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		d.mu.Lock()
		ok := cond()
		changed := d.changed
		d.mu.Unlock()
		if ok {
			return nil
		}

		select {
		case <-changed:
		case <-expired:
			return ErrTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Device) setStateLocked(s State) {
	if d.state == s {
		return
	}
	d.logger.WithFields(logrus.Fields{
		"device": d.identity.String(),
		"from":   d.state.String(),
		"to":     s.String(),
	}).Debug("Device state transition")
	d.state = s
	close(d.changed)
	d.changed = make(chan struct{})
}

// begin claims the device for an operation that needs a live, idle connection.
func (d *Device) begin(state State, kind discoveryKind, handle uint16) (*operation, uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.state.Busy():
		return nil, 0, fmt.Errorf("%w: %s in progress", ErrBusy, d.state)
	case d.state != StateConnected:
		return nil, 0, ErrNotConnected
	}
	return d.startLocked(state, kind, handle), d.conn, nil
}

func (d *Device) startLocked(state State, kind discoveryKind, handle uint16) *operation {
	op := &operation{state: state, kind: kind, handle: handle}
	d.op = op
	d.setStateLocked(state)
	return op
}

// run issues the transport command and waits for op to finish. On failure
// the slot is released and the state restored, so later events for op are
// dropped.
func (d *Device) run(ctx context.Context, op *operation, timeout time.Duration, issue func() error) error {
	if err := issue(); err != nil {
		d.mu.Lock()
		d.abortLocked(op)
		d.mu.Unlock()
		return err
	}

	err := d.waitUntil(ctx, timeout, op.finished)

	d.mu.Lock()
	defer d.mu.Unlock()
	if op.finished() {
		return nil
	}
	d.abortLocked(op)
	return err
}

func (d *Device) abortLocked(op *operation) {
	if d.op != op {
		return
	}
	d.op = nil
	if op.state == StateConnecting {
		d.setStateLocked(StateIdle)
		return
	}
	d.setStateLocked(StateConnected)
}

func (d *Device) completeLocked(op *operation, status int) {
	op.status = status
	op.done = true
	d.op = nil
	d.setStateLocked(StateConnected)
}

// current returns the in-flight operation if it matches state and kind.
func (d *Device) currentLocked(state State, kind discoveryKind) *operation {
	if d.op == nil || d.op.state != state || d.op.kind != kind {
		return nil
	}
	return d.op
}

func (d *Device) dropLocked(kind radio.Kind, reason string) {
	d.logger.WithFields(logrus.Fields{
		"device": d.identity.String(),
		"event":  kind.String(),
		"state":  d.state.String(),
	}).Debugf("Dropping event: %s", reason)
}

func (o *operation) err(name string) error {
	switch {
	case o.lost:
		return ErrConnectionLost
	case o.status != 0:
		return &StatusError{Op: name, Handle: o.handle, Status: o.status}
	}
	return nil
}

// Connect connects to the device and blocks until the connection is
// established, the attempt fails, or timeout elapses.
func (d *Device) Connect(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	switch {
	case d.state.Busy():
		st := d.state
		d.mu.Unlock()
		return fmt.Errorf("connect %s: %w: %s in progress", d.identity, ErrBusy, st)
	case d.state.HasConnection():
		d.mu.Unlock()
		return fmt.Errorf("connect %s: %w", d.identity, ErrAlreadyConnected)
	}
	op := d.startLocked(StateConnecting, discoverNone, 0)
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"device":  d.identity.String(),
		"timeout": timeout,
	}).Info("Connecting to device...")

	if err := d.run(ctx, op, timeout, func() error { return d.transport.Connect(d.identity) }); err != nil {
		d.logger.WithField("device", d.identity.String()).WithError(err).Warn("Connect failed")
		return fmt.Errorf("connect %s: %w", d.identity, err)
	}
	if op.lost {
		return fmt.Errorf("connect %s: %w", d.identity, ErrConnectFailed)
	}

	conn, _ := d.ConnHandle()
	d.logger.WithFields(logrus.Fields{
		"device": d.identity.String(),
		"conn":   conn,
	}).Info("Device connected")
	return nil
}

// Disconnect terminates the connection and blocks until the radio reports
// it gone. Disconnecting an idle device is a no-op.
func (d *Device) Disconnect(ctx context.Context, timeout time.Duration) error {
	op, conn, err := d.begin(StateDisconnecting, discoverNone, 0)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			return nil
		}
		return fmt.Errorf("disconnect %s: %w", d.identity, err)
	}

	if err := d.run(ctx, op, timeout, func() error { return d.transport.Disconnect(conn) }); err != nil {
		return fmt.Errorf("disconnect %s: %w", d.identity, err)
	}
	return nil
}

// ReadHandle reads the attribute value at handle.
func (d *Device) ReadHandle(ctx context.Context, handle uint16, timeout time.Duration) ([]byte, error) {
	op, conn, err := d.begin(StateReading, discoverNone, handle)
	if err != nil {
		return nil, fmt.Errorf("read 0x%04x: %w", handle, err)
	}

	if err := d.run(ctx, op, timeout, func() error { return d.transport.Read(conn, handle) }); err != nil {
		return nil, fmt.Errorf("read 0x%04x: %w", handle, err)
	}
	switch {
	case op.lost:
		return nil, fmt.Errorf("read 0x%04x: %w: %w", handle, ErrReadFailed, ErrConnectionLost)
	case op.status != 0:
		return nil, fmt.Errorf("read 0x%04x: %w: %w", handle, ErrReadFailed, op.err("read"))
	case !op.captured:
		return nil, fmt.Errorf("read 0x%04x: %w", handle, ErrReadFailed)
	}

	d.logger.WithFields(logrus.Fields{
		"device": d.identity.String(),
		"handle": fmt.Sprintf("0x%04x", handle),
		"len":    len(op.data),
	}).Debug("Read complete")
	return op.data, nil
}

// WriteHandle writes data to the attribute at handle. Without response the
// call returns once the command is accepted.
func (d *Device) WriteHandle(ctx context.Context, handle uint16, data []byte, withResponse bool, timeout time.Duration) error {
	op, conn, err := d.begin(StateWriting, discoverNone, handle)
	if err != nil {
		return fmt.Errorf("write 0x%04x: %w", handle, err)
	}

	if !withResponse {
		err := d.transport.Write(conn, handle, data, false)
		d.mu.Lock()
		if d.op == op {
			d.completeLocked(op, 0)
		}
		d.mu.Unlock()
		if err != nil {
			return fmt.Errorf("write 0x%04x: %w", handle, err)
		}
		return nil
	}

	if err := d.run(ctx, op, timeout, func() error { return d.transport.Write(conn, handle, data, true) }); err != nil {
		return fmt.Errorf("write 0x%04x: %w", handle, err)
	}
	if err := op.err("write"); err != nil {
		return fmt.Errorf("write 0x%04x: %w", handle, err)
	}
	return nil
}

// Subscribe enables notifications (or indications) for the characteristic
// with the given value handle. Its descriptors must have been discovered.
func (d *Device) Subscribe(ctx context.Context, valueHandle uint16, indicate bool, timeout time.Duration) error {
	d.mu.Lock()
	c, known := d.gatt.characteristics.Get(valueHandle)
	cccd, hasCCCD := d.gatt.cccd(valueHandle)
	d.mu.Unlock()

	switch {
	case !known:
		return fmt.Errorf("subscribe 0x%04x: %w: characteristic", valueHandle, ErrNotDiscovered)
	case !hasCCCD:
		return fmt.Errorf("subscribe 0x%04x: %w: client characteristic configuration", valueHandle, ErrNotDiscovered)
	case indicate && c.Properties&ble.CharIndicate == 0:
		return fmt.Errorf("subscribe 0x%04x: %w", valueHandle, ErrNotSupported)
	case !indicate && c.Properties&ble.CharNotify == 0:
		return fmt.Errorf("subscribe 0x%04x: %w", valueHandle, ErrNotSupported)
	}

	op, conn, err := d.begin(StateWriting, discoverNone, cccd)
	if err != nil {
		return fmt.Errorf("subscribe 0x%04x: %w", valueHandle, err)
	}
	if err := d.run(ctx, op, timeout, func() error {
		return d.transport.Subscribe(conn, valueHandle, cccd, indicate)
	}); err != nil {
		return fmt.Errorf("subscribe 0x%04x: %w", valueHandle, err)
	}
	if err := op.err("subscribe"); err != nil {
		return fmt.Errorf("subscribe 0x%04x: %w", valueHandle, err)
	}

	d.mu.Lock()
	if c, ok := d.gatt.characteristics.Get(valueHandle); ok {
		c.Subscribed = true
	}
	d.mu.Unlock()
	return nil
}

// Characteristic returns the discovered characteristic with the given value handle.
func (d *Device) Characteristic(valueHandle uint16) (Characteristic, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.gatt.characteristics.Get(valueHandle)
	if !ok {
		return Characteristic{}, false
	}
	return *c, true
}
