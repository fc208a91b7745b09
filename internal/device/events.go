package device

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/radio"
	"github.com/srg/gattc/internal/ringchan"
)

// HandleConnect binds conn to the device. A pending Connect completes.
func (d *Device) HandleConnect(conn uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.HasConnection() && d.conn != conn {
		d.logger.WithFields(logrus.Fields{
			"device": d.identity.String(),
			"old":    d.conn,
			"new":    conn,
		}).Warn("Device reconnected with a new connection handle")
	}
	d.conn = conn
	if op := d.currentLocked(StateConnecting, discoverNone); op != nil {
		op.done = true
		d.op = nil
	}
	if !d.state.HasConnection() {
		d.gatt.reset()
		d.setStateLocked(StateConnected)
	}
}

// HandleDisconnect resets the device to idle, abandoning any in-flight
// operation and closing the notification channel.
func (d *Device) HandleDisconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.op != nil {
		d.op.lost = true
		d.op = nil
	}
	hadConn := d.state.HasConnection()
	d.conn = 0
	d.gatt.reset()
	d.setStateLocked(StateIdle)

	if hadConn {
		d.notes.Close()
		d.notes = ringchan.New[Notification](d.notifyBuf)
		d.logger.WithField("device", d.identity.String()).Info("Device disconnected")
	}
}

func (d *Device) HandleServiceResult(ev radio.ServiceResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	op := d.currentLocked(StateDiscovering, discoverServices)
	if op == nil {
		d.dropLocked(ev.Kind(), "no service discovery in flight")
		return
	}
	s := Service{StartHandle: ev.StartHandle, EndHandle: ev.EndHandle, UUID: ev.UUID}
	op.services = append(op.services, s)
	d.gatt.addService(s)
}

func (d *Device) HandleCharacteristicResult(ev radio.CharacteristicResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	op := d.currentLocked(StateDiscovering, discoverCharacteristics)
	if op == nil {
		d.dropLocked(ev.Kind(), "no characteristic discovery in flight")
		return
	}
	if ev.DefHandle < op.start || ev.DefHandle > op.end {
		d.dropLocked(ev.Kind(), "declaration outside requested range")
		return
	}
	c := Characteristic{
		DefHandle:   ev.DefHandle,
		ValueHandle: ev.ValueHandle,
		Properties:  ev.Properties,
		UUID:        ev.UUID,
	}
	op.characteristics = append(op.characteristics, c)
	d.gatt.addCharacteristic(c)
}

func (d *Device) HandleDescriptorResult(ev radio.DescriptorResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	op := d.currentLocked(StateDiscovering, discoverDescriptors)
	if op == nil {
		d.dropLocked(ev.Kind(), "no descriptor discovery in flight")
		return
	}
	if ev.Handle < op.start || ev.Handle > op.end {
		d.dropLocked(ev.Kind(), "descriptor outside requested range")
		return
	}
	desc := Descriptor{Handle: ev.Handle, UUID: ev.UUID}
	op.descriptors = append(op.descriptors, desc)
	d.gatt.addDescriptor(desc)
}

func (d *Device) HandleServiceDone(ev radio.ServiceDone) {
	d.discoveryDone(ev.Kind(), discoverServices, ev.Status)
}

func (d *Device) HandleCharacteristicDone(ev radio.CharacteristicDone) {
	d.discoveryDone(ev.Kind(), discoverCharacteristics, ev.Status)
}

func (d *Device) HandleDescriptorDone(ev radio.DescriptorDone) {
	d.discoveryDone(ev.Kind(), discoverDescriptors, ev.Status)
}

func (d *Device) discoveryDone(kind radio.Kind, dk discoveryKind, status int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	op := d.currentLocked(StateDiscovering, dk)
	if op == nil {
		d.dropLocked(kind, "no matching discovery in flight")
		return
	}
	d.completeLocked(op, status)
}

// HandleReadResult captures the value of the in-flight read. Results for any
// other handle are stale and dropped.
func (d *Device) HandleReadResult(ev radio.ReadResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	op := d.currentLocked(StateReading, discoverNone)
	if op == nil || op.handle != ev.ValueHandle {
		d.dropLocked(ev.Kind(), "stale read result")
		return
	}
	op.data = append([]byte(nil), ev.Data...)
	op.captured = true
}

func (d *Device) HandleReadDone(ev radio.ReadDone) {
	d.mu.Lock()
	defer d.mu.Unlock()

	op := d.currentLocked(StateReading, discoverNone)
	if op == nil || (ev.ValueHandle != 0 && op.handle != ev.ValueHandle) {
		d.dropLocked(ev.Kind(), "stale read completion")
		return
	}
	d.completeLocked(op, ev.Status)
}

func (d *Device) HandleWriteDone(ev radio.WriteDone) {
	d.mu.Lock()
	defer d.mu.Unlock()

	op := d.currentLocked(StateWriting, discoverNone)
	if op == nil || (ev.ValueHandle != 0 && op.handle != ev.ValueHandle) {
		d.dropLocked(ev.Kind(), "stale write completion")
		return
	}
	d.completeLocked(op, ev.Status)
}

// HandleNotification queues a notify or indicate value. When the ring is
// full the oldest value is discarded.
func (d *Device) HandleNotification(valueHandle uint16, data []byte, indication bool) {
	d.mu.Lock()
	ring := d.notes
	live := d.state.HasConnection()
	if !live {
		d.dropLocked(radio.KindNotify, "not connected")
	}
	d.mu.Unlock()
	if !live {
		return
	}

	n := Notification{
		ValueHandle: valueHandle,
		Data:        append([]byte(nil), data...),
		Indication:  indication,
		Received:    time.Now(),
	}
	if ring.Send(n) {
		d.logger.WithFields(logrus.Fields{
			"device": d.identity.String(),
			"handle": valueHandle,
		}).Debug("Notification buffer full, dropped oldest value")
	}
}
