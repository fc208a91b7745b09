package device

import (
	"github.com/go-ble/ble"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// cccdUUID is the Client Characteristic Configuration descriptor.
var cccdUUID = ble.UUID16(0x2902)

// Service is a discovered primary service and its attribute handle range.
type Service struct {
	StartHandle uint16
	EndHandle   uint16
	UUID        ble.UUID
}

// Characteristic is a discovered characteristic declaration.
type Characteristic struct {
	DefHandle   uint16
	ValueHandle uint16
	Properties  ble.Property
	UUID        ble.UUID
	Subscribed  bool
}

// Descriptor is a discovered characteristic descriptor.
type Descriptor struct {
	Handle uint16
	UUID   ble.UUID
}

// Table holds the attributes discovered on one connection, in discovery order.
// It is owned by a Device and guarded by the Device lock.
type Table struct {
	services        *orderedmap.OrderedMap[uint16, Service]
	characteristics *orderedmap.OrderedMap[uint16, *Characteristic]
	descriptors     *orderedmap.OrderedMap[uint16, Descriptor]
}

func newTable() *Table {
	t := &Table{}
	t.reset()
	return t
}

func (t *Table) reset() {
	t.services = orderedmap.New[uint16, Service]()
	t.characteristics = orderedmap.New[uint16, *Characteristic]()
	t.descriptors = orderedmap.New[uint16, Descriptor]()
}

func (t *Table) addService(s Service) {
	t.services.Set(s.StartHandle, s)
}

func (t *Table) addCharacteristic(c Characteristic) {
	if old, ok := t.characteristics.Get(c.ValueHandle); ok {
		c.Subscribed = old.Subscribed
	}
	t.characteristics.Set(c.ValueHandle, &c)
}

func (t *Table) addDescriptor(d Descriptor) {
	t.descriptors.Set(d.Handle, d)
}

func (t *Table) serviceList() []Service {
	out := make([]Service, 0, t.services.Len())
	for p := t.services.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

func (t *Table) characteristicList(start, end uint16) []Characteristic {
	var out []Characteristic
	for p := t.characteristics.Oldest(); p != nil; p = p.Next() {
		if c := p.Value; c.DefHandle >= start && c.DefHandle <= end {
			out = append(out, *c)
		}
	}
	return out
}

func (t *Table) descriptorList(start, end uint16) []Descriptor {
	var out []Descriptor
	for p := t.descriptors.Oldest(); p != nil; p = p.Next() {
		if d := p.Value; d.Handle >= start && d.Handle <= end {
			out = append(out, d)
		}
	}
	return out
}

// serviceOf returns the service whose range contains handle.
func (t *Table) serviceOf(handle uint16) (Service, bool) {
	for p := t.services.Oldest(); p != nil; p = p.Next() {
		if s := p.Value; handle >= s.StartHandle && handle <= s.EndHandle {
			return s, true
		}
	}
	return Service{}, false
}

// descriptorRange returns the handle range holding the descriptors of the
// characteristic with the given value handle: from the value handle + 1 up to
// the next declaration in the same service, or the end of that service.
func (t *Table) descriptorRange(valueHandle uint16) (start, end uint16, ok bool) {
	c, ok := t.characteristics.Get(valueHandle)
	if !ok {
		return 0, 0, false
	}
	end = 0xffff
	if s, found := t.serviceOf(c.DefHandle); found {
		end = s.EndHandle
	}
	for p := t.characteristics.Oldest(); p != nil; p = p.Next() {
		if d := p.Value.DefHandle; d > c.ValueHandle && d-1 < end {
			end = d - 1
		}
	}
	if valueHandle == 0xffff || valueHandle+1 > end {
		return 0, 0, false
	}
	return valueHandle + 1, end, true
}

// cccd returns the CCCD handle of the characteristic with the given value handle.
func (t *Table) cccd(valueHandle uint16) (uint16, bool) {
	start, end, ok := t.descriptorRange(valueHandle)
	if !ok {
		return 0, false
	}
	for _, d := range t.descriptorList(start, end) {
		if d.UUID.Equal(cccdUUID) {
			return d.Handle, true
		}
	}
	return 0, false
}
